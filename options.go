package bbdl

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalop/bbdl/internal/ratelimit"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithTimeout sets the timeout for connection setup and transfers.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithWaitTime overrides Settings.WaitTime, the longest a request waits
// for its reply file.
func WithWaitTime(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("wait time must be positive, got %s", d)
		}
		c.settings.WaitTime = d
		return nil
	}
}

// WithPollInterval overrides Settings.PollInterval, the delay between
// listings of the remote directory while waiting for a reply.
//
// Bloomberg takes minutes to answer; short intervals are only useful
// against a mock server.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", d)
		}
		c.settings.PollInterval = d
		return nil
	}
}

// WithTempDir sets the directory request and reply files are written to.
func WithTempDir(dir string) Option {
	return func(c *Client) error {
		c.settings.TempDir = dir
		return nil
	}
}

// WithKeepFiles keeps the local request and reply files after a request
// instead of removing them.
func WithKeepFiles() Option {
	return func(c *Client) error {
		c.keepFiles = true
		return nil
	}
}

// WithCatalog sets the field catalog used to filter fields and convert
// reply values. The default is the embedded catalog.
func WithCatalog(catalog *Catalog) Option {
	return func(c *Client) error {
		if catalog == nil {
			return fmt.Errorf("catalog is nil")
		}
		c.catalog = catalog
		return nil
	}
}

// WithTLSConfig sets the TLS configuration for explicit FTPS. It only
// applies when Settings.Secure is false and Settings.TLS is true.
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Client) error {
		c.tlsConfig = config
		return nil
	}
}

// WithDialer replaces the function that opens the transport. Tests use it
// to plug in an in-memory transport.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) error {
		if dial == nil {
			return fmt.Errorf("dialer is nil")
		}
		c.dial = dial
		return nil
	}
}

// WithBandwidthLimit caps request uploads and reply downloads at
// bytesPerSecond. Zero or a negative value means no limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithProgress reports the bytes transferred for each request and reply
// file.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// WithLogger sets a custom logger for the client.
// If not set, logging is disabled (no-op logger).
//
// Requests are logged at Info, polling and transfers at Debug and
// Bloomberg error rows at Warn.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := bbdl.New(settings, bbdl.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger is nil")
		}
		c.logger = logger
		return nil
	}
}
