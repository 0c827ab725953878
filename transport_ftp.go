package bbdl

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"
)

// ftpTransport is a Transport over FTP, optionally upgraded with AUTH TLS.
type ftpTransport struct {
	conn   *ftp.ServerConn
	host   string
	logger *slog.Logger
}

// DialFTP connects and logs in over plain FTP, or explicit FTPS when
// cfg.Settings.TLS is set, then changes to the remote directory.
func DialFTP(ctx context.Context, cfg DialConfig) (Transport, error) {
	s := cfg.Settings
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger()
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithDebugOutput(&controlLog{logger: logger}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(cfg.Timeout))
	}
	if s.TLS {
		tlsConfig := cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: s.Hostname}
		}
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
	}

	logger.Debug("dialing ftp", "addr", s.Addr(), "tls", s.TLS)
	conn, err := ftp.Dial(s.Addr(), opts...)
	if err != nil {
		return nil, connErr(s.Hostname, "dial", err)
	}
	if err := conn.Login(s.Username, s.Password); err != nil {
		conn.Quit()
		return nil, connErr(s.Hostname, "login", err)
	}
	if s.RemoteDir != "" {
		if err := conn.ChangeDir(s.RemoteDir); err != nil {
			conn.Quit()
			return nil, connErr(s.Hostname, "cwd", err)
		}
	}
	return &ftpTransport{conn: conn, host: s.Hostname, logger: logger}, nil
}

func (t *ftpTransport) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := t.conn.NameList("")
	if err != nil {
		return nil, connErr(t.host, "list", err)
	}
	return names, nil
}

func (t *ftpTransport) Upload(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return connErr(t.host, "upload", t.conn.Stor(name, r))
}

func (t *ftpTransport) Download(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := t.conn.Retr(name)
	if err != nil {
		return connErr(t.host, "download", err)
	}
	_, err = io.Copy(w, resp)
	// Close reads the final transfer reply
	if cerr := resp.Close(); err == nil {
		err = cerr
	}
	return connErr(t.host, "download", err)
}

func (t *ftpTransport) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return connErr(t.host, "delete", t.conn.Delete(name))
}

func (t *ftpTransport) Close() error {
	return connErr(t.host, "quit", t.conn.Quit())
}

// controlLog logs the FTP control channel line by line at debug level.
// Passwords are masked.
type controlLog struct {
	logger *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func (l *controlLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf[:i]), "\r")
		l.buf = l.buf[i+1:]
		if strings.HasPrefix(strings.ToUpper(line), "PASS ") {
			line = "PASS ***"
		}
		if line != "" {
			l.logger.Debug("ftp control", "line", line)
		}
	}
	return len(p), nil
}
