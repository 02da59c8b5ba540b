package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ratsarchiv/pipeline/internal/logger"
)

// fetched is the result of downloading a PDF: either an in-memory buffer
// (Data set, Path empty) or a scoped temporary file (Path set, Data nil),
// chosen by comparing the response size against memThreshold
// (spec.md §4.B step 1). Callers must defer os.Remove(Path) whenever Path
// is non-empty — the file is never left behind.
type fetched struct {
	Data    []byte
	Path    string
	Spilled bool
}

// downloadError distinguishes a network-level failure (StatusCode == 0,
// retryable) from a terminal HTTP status, mirroring apiclient.FetchError and
// geocode's geocodeError so all three components share one retry shape.
type downloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *downloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *downloadError) Unwrap() error { return e.Err }

func isRetryableDownloadStatus(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500
}

// fetchBody downloads url, buffering the first memThreshold bytes in
// memory. If the body is no larger than that, it is returned as Data with
// Spilled=false; otherwise the buffered prefix and the remainder are
// written out to a scoped temp file and Spilled is true. maxBytes bounds
// the total response size regardless of threshold, so a misbehaving server
// cannot exhaust memory or disk. Request and HTTP-status errors are
// *downloadError so callers can tell network/5xx failures (retryable) from
// terminal 4xx ones; read, temp-file and size-limit errors are plain errors.
func fetchBody(ctx context.Context, client *http.Client, url string, maxBytes, memThreshold int64) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetched{}, &downloadError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fetched{}, &downloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fetched{}, &downloadError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	if memThreshold <= 0 {
		memThreshold = 10 * 1024 * 1024
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	var buf bytes.Buffer
	// Read one byte past the threshold so a body of exactly memThreshold
	// bytes (no more data behind it) is correctly classified as in-memory
	// rather than spilled.
	n, err := io.CopyN(&buf, limited, memThreshold+1)
	if err != nil && err != io.EOF {
		return fetched{}, fmt.Errorf("read response: %w", err)
	}
	if n <= memThreshold {
		// The whole body fit within the in-memory threshold.
		if int64(buf.Len()) > maxBytes {
			return fetched{}, fmt.Errorf("download %s: exceeds max response size %d bytes", url, maxBytes)
		}
		logger.Info("EXTRACT", fmt.Sprintf("downloaded %s (%d bytes) in memory", url, buf.Len()))
		return fetched{Data: buf.Bytes(), Spilled: false}, nil
	}

	// Exceeded the in-memory threshold: spill the buffered prefix plus the
	// rest of the stream into a scoped temp file.
	f, err := os.CreateTemp("", "pipeline-extract-*.pdf")
	if err != nil {
		return fetched{}, fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.MultiReader(&buf, limited))
	if err != nil {
		os.Remove(f.Name())
		return fetched{}, fmt.Errorf("write temp file: %w", err)
	}
	if written > maxBytes {
		os.Remove(f.Name())
		return fetched{}, fmt.Errorf("download %s: exceeds max response size %d bytes", url, maxBytes)
	}
	logger.Info("EXTRACT", fmt.Sprintf("downloaded %s (%d bytes) to %s", url, written, f.Name()))
	return fetched{Path: f.Name(), Spilled: true}, nil
}

// materializeToTemp writes an in-memory body out to a scoped temp file, for
// the layout parser and OCR engine, neither of which accepts an in-memory
// reader. Callers must defer os.Remove on the returned path.
func materializeToTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "pipeline-extract-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), nil
}
