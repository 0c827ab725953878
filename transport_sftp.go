package bbdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpTransport is a Transport over SFTP, the production Data License
// delivery mechanism.
type sftpTransport struct {
	ssh    *ssh.Client
	client *sftp.Client
	host   string
	dir    string
	logger *slog.Logger
}

// DialSFTP opens an SSH connection authenticated by password (plain or
// keyboard-interactive) and starts an SFTP session on it.
//
// The host key is checked against cfg.Settings.KnownHosts. Without a
// known_hosts file DialSFTP fails with a ValidationError unless
// cfg.Settings.InsecureSkipHostKey is set, in which case any key is
// accepted.
func DialSFTP(ctx context.Context, cfg DialConfig) (Transport, error) {
	s := cfg.Settings
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger()
	}

	hostKey, err := hostKeyCallback(s)
	if err != nil {
		return nil, err
	}
	if s.KnownHosts == "" {
		logger.Warn("sftp host key verification disabled", "host", s.Hostname)
	}

	password := s.Password
	clientConfig := &ssh.ClientConfig{
		User: s.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}

	logger.Debug("dialing sftp", "addr", s.Addr())
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return nil, connErr(s.Hostname, "dial", err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(nc, s.Addr(), clientConfig)
	if err != nil {
		nc.Close()
		return nil, connErr(s.Hostname, "login", err)
	}
	sshClient := ssh.NewClient(sc, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, connErr(s.Hostname, "sftp", err)
	}

	dir := s.RemoteDir
	if dir == "" {
		dir = "."
	}
	if _, err := client.Stat(dir); err != nil {
		client.Close()
		sshClient.Close()
		return nil, connErr(s.Hostname, "cwd", fmt.Errorf("%s: %w", dir, err))
	}
	return &sftpTransport{ssh: sshClient, client: client, host: s.Hostname, dir: dir, logger: logger}, nil
}

func hostKeyCallback(s Settings) (ssh.HostKeyCallback, error) {
	if s.KnownHosts == "" {
		if !s.InsecureSkipHostKey {
			return nil, &ValidationError{Field: "knownhosts", Reason: "required for sftp unless insecureskiphostkey is set"}
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(s.KnownHosts)
	if err != nil {
		return nil, &ValidationError{Field: "knownhosts", Reason: err.Error()}
	}
	return cb, nil
}

func (t *sftpTransport) path(name string) string {
	return path.Join(t.dir, name)
}

func (t *sftpTransport) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := t.client.ReadDir(t.dir)
	if err != nil {
		return nil, connErr(t.host, "list", err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func (t *sftpTransport) Upload(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := t.client.Create(t.path(name))
	if err != nil {
		return connErr(t.host, "upload", err)
	}
	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		return connErr(t.host, "upload", err)
	}
	return connErr(t.host, "upload", f.Close())
}

func (t *sftpTransport) Download(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := t.client.Open(t.path(name))
	if err != nil {
		return connErr(t.host, "download", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return connErr(t.host, "download", err)
	}
	return nil
}

func (t *sftpTransport) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.client.Remove(t.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return connErr(t.host, "delete", os.ErrNotExist)
	}
	return connErr(t.host, "delete", err)
}

func (t *sftpTransport) Close() error {
	err := t.client.Close()
	if cerr := t.ssh.Close(); err == nil {
		err = cerr
	}
	return connErr(t.host, "close", err)
}
