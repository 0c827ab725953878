package bbdl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// gunzipFile decompresses a .gz reply next to itself, removes the
// compressed file and returns the new path.
func gunzipFile(gzPath string) (string, error) {
	if !strings.HasSuffix(gzPath, ".gz") {
		return "", &ValidationError{Field: "reply file", Reason: gzPath + " is not a .gz file"}
	}
	outPath := strings.TrimSuffix(gzPath, ".gz")

	in, err := os.Open(gzPath)
	if err != nil {
		return "", fmt.Errorf("failed to open reply: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", &ParseError{Reason: fmt.Sprintf("reply %s is not gzip data: %v", gzPath, err)}
	}
	defer zr.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create reply: %w", err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return "", &ParseError{Reason: fmt.Sprintf("reply %s: %v", gzPath, err)}
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	in.Close()
	if err := os.Remove(gzPath); err != nil {
		return "", err
	}
	return outPath, nil
}
