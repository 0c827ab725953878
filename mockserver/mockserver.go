// Package mockserver runs an in-process FTP server that behaves like a
// Bloomberg Data License account: every uploaded request file (*.req) is
// answered with a reply file (*.out, or *.out.gz when the request asks for
// compression) built from fixture securities.
//
// It lets the whole request cycle of the bbdl client run in tests without
// Bloomberg or docker:
//
//	srv, err := mockserver.New(mockserver.WithCredentials("foo", "bar"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start("127.0.0.1:0"); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
package mockserver

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/klauspost/compress/gzip"
)

const (
	requestSuffix = ".req"
	replySuffix   = ".out"
)

// Server is a mock Data License FTP server.
type Server struct {
	root       string
	ownRoot    bool
	user       string
	pass       string
	delay      time.Duration
	securities map[string]Security
	tlsConfig  *tls.Config
	logger     *slog.Logger

	ftp  *ftpd
	addr string
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	requests []*bbdl.RequestFile
}

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithRoot serves dir instead of a fresh temporary directory.
func WithRoot(dir string) Option {
	return func(s *Server) error {
		s.root = dir
		return nil
	}
}

// WithCredentials sets the only user allowed to log in. The default is
// "foo"/"bar".
func WithCredentials(user, pass string) Option {
	return func(s *Server) error {
		s.user, s.pass = user, pass
		return nil
	}
}

// WithDelay delays every reply, like Bloomberg does.
func WithDelay(d time.Duration) Option {
	return func(s *Server) error {
		s.delay = d
		return nil
	}
}

// WithSecurities replaces DefaultSecurities.
func WithSecurities(securities ...Security) Option {
	return func(s *Server) error {
		s.securities = make(map[string]Security, len(securities))
		for _, sec := range securities {
			s.securities[strings.ToUpper(sec.Identifier)] = sec
		}
		return nil
	}
}

// WithTLS enables explicit FTPS.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConfig = config
		return nil
	}
}

// WithLogger sets the logger of the server and the FTP sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// New creates a Server. Call Start or Serve to accept connections.
func New(options ...Option) (*Server, error) {
	s := &Server{
		user:   "foo",
		pass:   "bar",
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if s.securities == nil {
		WithSecurities(DefaultSecurities...)(s)
	}
	if s.root == "" {
		dir, err := os.MkdirTemp("", "bbdl-mock-")
		if err != nil {
			return nil, err
		}
		s.root, s.ownRoot = dir, true
	}

	s.ftp = &ftpd{
		root:      s.root,
		user:      s.user,
		pass:      s.pass,
		tlsConfig: s.tlsConfig,
		logger:    s.logger,
		onUpload:  s.handleRequest,
	}
	return s, nil
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ftp.serve(ln); err != nil && !errors.Is(err, errServerClosed) {
			s.logger.Error("mock server stopped", "error", err)
		}
	}()
	s.logger.Info("mock server listening", "addr", s.addr, "root", s.root)
	return nil
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.addr = l.Addr().String()
	return s.ftp.serve(l)
}

// Addr returns the listening address after Start.
func (s *Server) Addr() string { return s.addr }

// Host returns the listening host after Start.
func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.addr)
	return h
}

// Port returns the listening port after Start.
func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.addr)
	n, _ := strconv.Atoi(p)
	return n
}

// Root returns the directory served.
func (s *Server) Root() string { return s.root }

// Settings returns client settings pointing at the server over plain FTP.
func (s *Server) Settings() bbdl.Settings {
	st := bbdl.DefaultSettings()
	st.Hostname = s.Host()
	st.Port = s.Port()
	st.Username = s.user
	st.Password = s.pass
	st.Secure = false
	st.TLS = s.tlsConfig != nil
	return st
}

// Requests returns the request files received so far.
func (s *Server) Requests() []*bbdl.RequestFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bbdl.RequestFile(nil), s.requests...)
}

// Close stops the server, waits for pending replies to be dropped and
// removes the temporary root.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	err := s.ftp.shutdown()
	s.wg.Wait()
	if s.ownRoot {
		if rerr := os.RemoveAll(s.root); err == nil {
			err = rerr
		}
	}
	return err
}

// handleRequest answers the request uploaded at name (a slash separated
// path relative to the root).
func (s *Server) handleRequest(name string, content []byte) {
	req, err := bbdl.ReadRequest(bytes.NewReader(content))
	if err != nil {
		s.logger.Warn("ignoring malformed request", "file", name, "error", err)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	reply, err := s.Reply(req)
	if err != nil {
		s.logger.Warn("cannot answer request", "file", name, "error", err)
		return
	}
	target := strings.TrimSuffix(name, requestSuffix) + replySuffix
	if req.Compressed() {
		target += ".gz"
		if reply, err = gzipBytes(reply); err != nil {
			s.logger.Error("failed to compress reply", "error", err)
			return
		}
	}
	local := filepath.Join(s.root, filepath.FromSlash(target))

	select {
	case <-s.done:
		return
	default:
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.delay > 0 {
			t := time.NewTimer(s.delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.done:
				return
			}
		}
		if err := writeAtomic(local, reply); err != nil {
			s.logger.Error("failed to write reply", "file", target, "error", err)
			return
		}
		s.logger.Info("reply ready", "file", target, "bytes", len(reply))
	}()
}

// writeAtomic writes through a temporary name so listings never show a
// partial reply.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
