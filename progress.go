package bbdl

import "io"

// ProgressFunc is called during uploads and downloads with the file name
// and the total bytes transferred so far.
type ProgressFunc func(name string, bytesTransferred int64)

// ProgressReader wraps an io.Reader and reports progress via a callback.
type ProgressReader struct {
	// Reader is the underlying reader
	Reader io.Reader

	// Name is passed to Callback
	Name string

	// Callback is called after each Read with the total bytes read
	Callback ProgressFunc

	total int64
}

// Read implements io.Reader.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.total += int64(n)
	if pr.Callback != nil && n > 0 {
		pr.Callback(pr.Name, pr.total)
	}
	return n, err
}

// Total returns the bytes read so far.
func (pr *ProgressReader) Total() int64 { return pr.total }

// ProgressWriter wraps an io.Writer and reports progress via a callback.
type ProgressWriter struct {
	// Writer is the underlying writer
	Writer io.Writer

	// Name is passed to Callback
	Name string

	// Callback is called after each Write with the total bytes written
	Callback ProgressFunc

	total int64
}

// Write implements io.Writer.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += int64(n)
	if pw.Callback != nil && n > 0 {
		pw.Callback(pw.Name, pw.total)
	}
	return n, err
}

// Total returns the bytes written so far.
func (pw *ProgressWriter) Total() int64 { return pw.total }
