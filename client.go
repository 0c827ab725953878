package bbdl

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gonzalop/bbdl/internal/ratelimit"
	"github.com/google/uuid"
)

// Client sends requests to a Data License account and collects the
// replies.
//
// A Client holds one transport session. Requests are serialized; it is
// safe to share a Client between goroutines but they will wait on each
// other.
type Client struct {
	// settings are the validated account settings
	settings Settings

	// catalog filters requested fields and converts reply values
	catalog *Catalog

	// logger is used for request logging
	logger *slog.Logger

	// timeout bounds connection setup and transfers
	timeout time.Duration

	// tlsConfig is used for explicit FTPS
	tlsConfig *tls.Config

	// dial opens the transport
	dial DialFunc

	// progress is called during transfers (optional)
	progress ProgressFunc

	// limiter caps transfer bandwidth, nil for no limit
	limiter *ratelimit.Limiter

	// keepFiles leaves request and reply files in the temp directory
	keepFiles bool

	// mu serializes requests and guards tr
	mu sync.Mutex

	// tr is the open transport, nil until the first request or Connect
	tr Transport
}

// New creates a Client for the given settings. No connection is made until
// Connect or the first Request.
//
// Example:
//
//	s := bbdl.DefaultSettings()
//	s.Username, s.Password = "dl000000", "secret"
//	client, err := bbdl.New(s, bbdl.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func New(settings Settings, options ...Option) (*Client, error) {
	c := &Client{
		settings: settings,
		catalog:  DefaultCatalog(),
		timeout:  30 * time.Second,
		dial:     Dial,
		logger:   slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1})), // No-op logger by default
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.settings.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromConfig creates a Client from the settings block at key (for
// example "bbg.data.ftp") of a locked Config.
func NewFromConfig(cfg *Config, key string, options ...Option) (*Client, error) {
	if !cfg.Locked() {
		return nil, &ValidationError{Field: "config", Reason: "must be locked before use"}
	}
	s, err := cfg.Settings(key)
	if err != nil {
		return nil, err
	}
	return New(s, options...)
}

// Settings returns the settings the client was built with, after options.
func (c *Client) Settings() Settings {
	return c.settings
}

// Connect opens the transport. Calling it is optional: Request connects on
// demand.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.tr != nil {
		return nil
	}
	c.logger.Debug("connecting", "settings", c.settings)
	tr, err := c.dial(ctx, DialConfig{
		Settings:  c.settings,
		Timeout:   c.timeout,
		TLSConfig: c.tlsConfig,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.tr = tr
	return nil
}

// Close ends the transport session. The client may be reused; the next
// Request reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	return err
}

// Request asks Bloomberg for fields over identifiers.
//
// Fields are upper-cased and limited to those in categories (plus open
// fields unless WithoutOpenFields is given), then sent in chunks of
// MaxFieldsPerRequest. Identifiers are parsed with ParseIdentifier.
//
// The returned Result holds the resolved records in Data and the
// identifiers Bloomberg rejected in Errors. The error return is reserved
// for connection failures (*ConnectionError), missing replies
// (*TimeoutError), bad inputs (*ValidationError) and malformed replies
// (*ParseError).
//
// Example:
//
//	res, err := client.Request(ctx,
//	    []string{"IBM US Equity", "88160RAG6|CUSIP"},
//	    []string{"ID_BB_GLOBAL", "PX_LAST"},
//	    []string{"Security Master", "End of Day Pricing"},
//	)
func (c *Client) Request(ctx context.Context, identifiers, fields, categories []string, opts ...RequestOption) (*Result, error) {
	ids, err := ParseIdentifiers(identifiers)
	if err != nil {
		return nil, err
	}
	return c.RequestIdentifiers(ctx, ids, fields, categories, opts...)
}

// RequestIdentifiers is Request for already parsed identifiers.
func (c *Client) RequestIdentifiers(ctx context.Context, identifiers []Identifier, fields, categories []string, opts ...RequestOption) (*Result, error) {
	o := newRequestOptions(opts)
	if len(identifiers) == 0 {
		return nil, &ValidationError{Field: "identifiers", Reason: "at least one identifier is required"}
	}

	if len(categories) == 0 {
		c.logger.Warn("no categories given, fields are not filtered")
	}
	limited := c.catalog.LimitFields(fields, categories, o.AllowOpen)
	c.logger.Info("filtered request fields", "requested", len(fields), "kept", len(limited))
	if len(limited) == 0 {
		return nil, &ValidationError{Field: "fields", Reason: "no requested field belongs to the given categories"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID)

	dir, err := os.MkdirTemp(c.settings.tempDir(), "bbdl-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	if c.keepFiles {
		logger.Info("keeping request files", "dir", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	nparts := (len(limited)-1)/MaxFieldsPerRequest + 1
	result := &Result{RequestID: requestID}
	for part := range nparts {
		logger.Info("lookup part", "part", part+1, "parts", nparts)
		lo := part * MaxFieldsPerRequest
		hi := min(lo+MaxFieldsPerRequest, len(limited))

		res, err := c.requestPart(ctx, logger, dir, part, identifiers, limited[lo:hi], o)
		if err != nil {
			if errors.As(err, new(*ConnectionError)) {
				c.dropTransport()
			}
			return nil, err
		}
		result.Extend(res)
	}
	logger.Info("request complete", "records", len(result.Data), "errors", len(result.Errors))
	return result, nil
}

// dropTransport discards a transport after a connection error so the next
// request reconnects.
func (c *Client) dropTransport() {
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
}

func (c *Client) requestPart(ctx context.Context, logger *slog.Logger, dir string, part int, identifiers []Identifier, fields []string, o RequestOptions) (*Result, error) {
	reqName := fmt.Sprintf("fprp%02d.req", part)
	respName := fmt.Sprintf("fprp%02d.out", part)
	if c.settings.Compressed {
		respName += ".gz"
	}

	var buf bytes.Buffer
	if err := BuildRequest(&buf, c.settings, identifiers, fields, o); err != nil {
		return nil, err
	}
	reqPath := filepath.Join(dir, reqName)
	if err := os.WriteFile(reqPath, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write request file: %w", err)
	}
	logger.Debug("wrote request file", "path", reqPath, "content", buf.String())

	remoteName, err := c.send(ctx, logger, reqName, respName, buf.Bytes())
	if err != nil {
		return nil, err
	}

	respPath := filepath.Join(dir, respName)
	if err := c.download(ctx, remoteName, respPath); err != nil {
		return nil, err
	}
	if c.settings.Compressed {
		if respPath, err = gunzipFile(respPath); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(respPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open reply: %w", err)
	}
	defer f.Close()
	p := &Parser{Catalog: c.catalog, Logger: logger}
	return p.Parse(f)
}

// send removes a stale reply, uploads the request and polls the remote
// directory until a file ending in respName appears. It returns the name
// of that file.
func (c *Client) send(ctx context.Context, logger *slog.Logger, reqName, respName string, request []byte) (string, error) {
	if err := c.tr.Delete(ctx, respName); err != nil {
		logger.Debug("no stale reply to delete", "file", respName, "error", err)
	}

	r := &ProgressReader{Reader: bytes.NewReader(request), Name: reqName, Callback: c.progress}
	if err := c.tr.Upload(ctx, reqName, ratelimit.NewReader(ctx, r, c.limiter)); err != nil {
		return "", err
	}
	logger.Debug("uploaded request", "file", reqName, "bytes", r.Total())

	start := time.Now()
	ticker := time.NewTicker(c.settings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		logger.Debug("waiting for reply file", "file", respName, "elapsed", time.Since(start).Round(time.Second))
		names, err := c.tr.List(ctx)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			if strings.HasSuffix(name, respName) {
				return name, nil
			}
		}
		if waited := time.Since(start); waited >= c.settings.WaitTime {
			return "", &TimeoutError{File: respName, Waited: waited}
		}
	}
}

func (c *Client) download(ctx context.Context, remoteName, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create reply file: %w", err)
	}
	w := &ProgressWriter{Writer: f, Name: remoteName, Callback: c.progress}
	if err := c.tr.Download(ctx, remoteName, ratelimit.NewWriter(ctx, w, c.limiter)); err != nil {
		f.Close()
		return err
	}
	c.logger.Debug("downloaded reply", "file", remoteName, "bytes", w.Total())
	return f.Close()
}
