package bbdl

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"time"
)

// Transport moves request and reply files in the account directory of a
// Data License server. Names are relative to Settings.RemoteDir.
type Transport interface {
	// List returns the names of the files in the remote directory.
	List(ctx context.Context) ([]string, error)
	// Upload stores r as name.
	Upload(ctx context.Context, name string, r io.Reader) error
	// Download writes the content of name to w.
	Download(ctx context.Context, name string, w io.Writer) error
	// Delete removes name.
	Delete(ctx context.Context, name string) error
	// Close ends the session.
	Close() error
}

// DialConfig is passed to a DialFunc.
type DialConfig struct {
	Settings Settings
	// Timeout bounds connection setup and individual transfers.
	Timeout time.Duration
	// TLSConfig is used for explicit FTPS. Nil means a default config with
	// ServerName set to the host.
	TLSConfig *tls.Config
	Logger    *slog.Logger
}

// DialFunc opens a Transport.
type DialFunc func(ctx context.Context, cfg DialConfig) (Transport, error)

// Dial opens an SFTP transport when cfg.Settings.Secure is set, and an
// FTP (or explicit FTPS) transport otherwise.
func Dial(ctx context.Context, cfg DialConfig) (Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = nopLogger()
	}
	if cfg.Settings.Secure {
		return DialSFTP(ctx, cfg)
	}
	return DialFTP(ctx, cfg)
}

func connErr(host, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionError{Host: host, Op: op, Err: err}
}
