// Package ratelimit throttles request uploads and reply downloads.
//
// Bloomberg replies for large universes run to hundreds of megabytes; a
// limit keeps a scheduled pull from saturating a shared link.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds the bytes moved per wait so throttling stays smooth.
const maxChunk = 32 * 1024

// Limiter limits transfers to a number of bytes per second. A nil
// *Limiter does not limit.
type Limiter struct {
	l *rate.Limiter
}

// New returns a limiter for bytesPerSecond, or nil when the value is not
// positive. The burst is one second of data (at least one chunk).
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(max(bytesPerSecond, maxChunk))
	return &Limiter{l: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Limit returns the configured rate in bytes per second, 0 for nil.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.l.Limit())
}

func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.l.WaitN(ctx, n)
}

type reader struct {
	ctx context.Context
	r   io.Reader
	l   *Limiter
}

// NewReader returns r throttled by l. A nil l returns r unchanged.
// Reads fail with the context error once ctx is done.
func NewReader(ctx context.Context, r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	// charge only the bytes actually read
	n, err := r.r.Read(p)
	if werr := r.l.wait(r.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}

type writer struct {
	ctx context.Context
	w   io.Writer
	l   *Limiter
}

// NewWriter returns w throttled by l. A nil l returns w unchanged.
func NewWriter(ctx context.Context, w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{ctx: ctx, w: w, l: l}
}

// Write waits for tokens before each chunk, so a slow consumer applies
// backpressure to the transfer.
func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := min(len(p)-written, maxChunk)
		if err := w.l.wait(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
