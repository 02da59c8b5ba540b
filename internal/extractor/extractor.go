// Package extractor implements component B: turning a Paper's PDF into
// plain text, falling through primary text layer -> layout parser -> OCR,
// and never returning an error from Extract itself — failures are encoded
// in the returned model.ExtractionResult so the orchestrator can record them
// and keep going (SPEC_FULL.md §4.B, §7).
package extractor

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/model"
	"github.com/ratsarchiv/pipeline/internal/retry"
)

// Config holds the settings the extractor needs (SPEC_FULL.md §6, `extraction.*`).
type Config struct {
	MaxWorkers           int
	PerDownloadDelay     time.Duration
	MemoryThresholdBytes int64
	MaxResponseBytes     int64
	RetryAttempts        int // additional attempts after the first; 0 makes a single attempt
	EnableOCR            bool
	OCREngine            OCREngine // nil uses TesseractEngine{} when EnableOCR is set
}

// Extractor bounds concurrent PDF downloads/parses with a weighted
// semaphore, in the style of the teacher's esi.Client sem channel but using
// x/sync/semaphore so callers can acquire more than one slot for larger
// documents in a future revision without changing the call shape.
type Extractor struct {
	cfg  Config
	http *http.Client
	sem  *semaphore.Weighted
	ocr  OCREngine
}

// New constructs an Extractor bound to cfg.
func New(cfg Config) *Extractor {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	var ocr OCREngine
	if cfg.EnableOCR {
		ocr = cfg.OCREngine
		if ocr == nil {
			ocr = TesseractEngine{}
		}
	}
	return &Extractor{
		cfg:  cfg,
		http: &http.Client{Timeout: 2 * time.Minute},
		sem:  semaphore.NewWeighted(int64(workers)),
		ocr:  ocr,
	}
}

// Extract downloads the PDF at pdfURL (kept in memory, or spilled to a scoped
// temp file that is always removed before return when the body exceeds the
// memory threshold) and runs it through the fallback chain.
// It blocks until a worker slot is available or ctx is done.
func (x *Extractor) Extract(ctx context.Context, paperID, pdfURL string) model.ExtractionResult {
	if err := x.sem.Acquire(ctx, 1); err != nil {
		return model.ExtractionResult{PaperID: paperID, PDFURL: pdfURL, Method: model.MethodFailed, Error: err.Error()}
	}
	defer x.sem.Release(1)

	if x.cfg.PerDownloadDelay > 0 {
		select {
		case <-time.After(x.cfg.PerDownloadDelay):
		case <-ctx.Done():
			return model.ExtractionResult{PaperID: paperID, PDFURL: pdfURL, Method: model.MethodFailed, Error: ctx.Err().Error()}
		}
	}

	maxBytes := x.cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	body, err := x.downloadWithRetry(ctx, pdfURL, maxBytes)
	if err != nil {
		logger.Warn("EXTRACT", paperID+": "+err.Error())
		return model.ExtractionResult{PaperID: paperID, PDFURL: pdfURL, Method: model.MethodFailed, SpilledToDisk: body.Spilled, Error: err.Error()}
	}
	if body.Path != "" {
		defer os.Remove(body.Path)
	}

	return x.extractBody(ctx, paperID, pdfURL, body)
}

// downloadWithRetry wraps fetchBody in the shared retry policy, matching
// apiclient.Client.fetchPage and geocode.Geocoder.fetchRemote: network errors
// and 429/5xx responses are retried with exponential backoff up to a small
// limit (spec.md §4.B), a terminal 4xx is not.
func (x *Extractor) downloadWithRetry(ctx context.Context, pdfURL string, maxBytes int64) (fetched, error) {
	policy := retry.Policy{
		MaxAttempts: maxInt(1, x.cfg.RetryAttempts+1),
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		RetryablePredicate: func(err error) bool {
			var de *downloadError
			if errors.As(err, &de) {
				if de.StatusCode == 0 {
					return true
				}
				return isRetryableDownloadStatus(de.StatusCode)
			}
			return false
		},
	}

	var result fetched
	err := retry.Do(ctx, policy, func(attempt int) error {
		body, err := fetchBody(ctx, x.http, pdfURL, maxBytes, x.cfg.MemoryThresholdBytes)
		if err != nil {
			return err
		}
		result = body
		return nil
	})
	return result, err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// extractBody runs the fallback chain over an already-downloaded body,
// which is either held in memory (body.Data) or already spilled to a
// scoped temp file (body.Path) depending on how fetchBody classified it
// against extraction.memory_threshold_bytes. The layout parser and OCR
// engine both require a file on disk, so an in-memory body is materialized
// to a temp file lazily, only if the primary text layer turns out
// insufficient — the common case (a real text layer) never touches disk.
func (x *Extractor) extractBody(ctx context.Context, paperID, pdfURL string, body fetched) model.ExtractionResult {
	base := model.ExtractionResult{PaperID: paperID, PDFURL: pdfURL, SpilledToDisk: body.Spilled}

	if body.Path == "" {
		if text, pages, err := primaryTextFromMemory(body.Data); err == nil && isUsable(text) {
			base.Text, base.PageCount, base.Method = strings.TrimSpace(text), pages, model.MethodPrimaryText
			return base
		}
	} else {
		if text, pages, err := primaryText(body.Path); err == nil && isUsable(text) {
			base.Text, base.PageCount, base.Method = strings.TrimSpace(text), pages, model.MethodPrimaryText
			return base
		}
	}

	path := body.Path
	if path == "" {
		spilledPath, err := materializeToTemp(body.Data)
		if err != nil {
			base.Method = model.MethodFailed
			base.Error = "materialize for fallback parsers: " + err.Error()
			return base
		}
		path = spilledPath
		defer os.Remove(path)
	}

	if text, pages, err := layoutText(path); err == nil && isUsable(text) {
		base.Text, base.PageCount, base.Method = strings.TrimSpace(text), pages, model.MethodLayoutParser
		return base
	}

	if x.ocr != nil {
		text, err := x.ocr.Recognize(ctx, path)
		if err == nil && isUsable(text) {
			base.Text, base.Method = strings.TrimSpace(text), model.MethodOCR
			return base
		}
		if err != nil {
			logger.Warn("EXTRACT", paperID+": ocr failed: "+err.Error())
		}
	}

	base.Method = model.MethodFailed
	base.Error = "no extraction method produced usable text"
	return base
}
