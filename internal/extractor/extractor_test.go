package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ratsarchiv/pipeline/internal/model"
)

func TestIsUsable(t *testing.T) {
	if isUsable("") {
		t.Fatal("expected empty text to be unusable")
	}
	if isUsable("   \n\t  ") {
		t.Fatal("expected whitespace-only text to be unusable")
	}
	if !isUsable("Sanierung der Ludwigstraße 12") {
		t.Fatal("expected a short but genuine text layer to be usable")
	}
	long := "This is a council meeting minute discussing the rezoning of parcel 14-B near the river."
	if !isUsable(long) {
		t.Fatal("expected long text to be usable")
	}
}

func TestTokenizeShowText_ExtractsLiterals(t *testing.T) {
	content := []byte(`BT /F1 12 Tf (Hello) Tj (World\)) Tj [(Foo)-250(Bar)] TJ ET`)
	got := tokenizeShowText(content)
	for _, want := range []string{"Hello", "World)", "Foo", "Bar"} {
		if !contains(got, want) {
			t.Fatalf("expected tokenized text to contain %q, got %q", want, got)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// fakeOCR lets tests exercise the OCR fallback without a tesseract binary.
type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) Recognize(ctx context.Context, pdfPath string) (string, error) {
	return f.text, f.err
}

func TestExtract_DownloadFailureIsRecordedNotPanicked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	x := New(Config{MaxWorkers: 1})
	res := x.Extract(context.Background(), "p1", srv.URL+"/missing.pdf")
	if res.Succeeded() {
		t.Fatal("expected extraction to fail for a 404 response")
	}
	if res.Method != model.MethodFailed {
		t.Fatalf("expected MethodFailed, got %v", res.Method)
	}
	if res.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestExtract_OversizedResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	x := New(Config{MaxWorkers: 1, MaxResponseBytes: 16})
	res := x.Extract(context.Background(), "p1", srv.URL+"/big.pdf")
	if res.Succeeded() {
		t.Fatal("expected oversized download to fail")
	}
}

func TestExtract_FallsThroughToOCR(t *testing.T) {
	// Serve content that is not a parseable PDF, forcing primaryText and
	// layoutText to fail, and verify the OCR fallback is consulted and its
	// result accepted (scenario S2: primary+layout miss, OCR recovers text).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 not a real document"))
	}))
	defer srv.Close()

	ocrText := "RESOLUTION 2024-07: approving the rezoning of Bahnhofstrasse parcel 22."
	x := New(Config{MaxWorkers: 1, EnableOCR: true, OCREngine: fakeOCR{text: ocrText}})
	res := x.Extract(context.Background(), "p1", srv.URL+"/scan.pdf")
	if !res.Succeeded() {
		t.Fatalf("expected OCR fallback to succeed, got error: %s", res.Error)
	}
	if res.Method != model.MethodOCR {
		t.Fatalf("expected MethodOCR, got %v", res.Method)
	}
	if res.Text != ocrText {
		t.Fatalf("expected OCR text to be used verbatim, got %q", res.Text)
	}
}

func TestExtract_NoOCRConfiguredFailsCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 not a real document"))
	}))
	defer srv.Close()

	x := New(Config{MaxWorkers: 1})
	res := x.Extract(context.Background(), "p1", srv.URL+"/scan.pdf")
	if res.Succeeded() {
		t.Fatal("expected failure with OCR disabled and no usable text layer")
	}
	if res.Method != model.MethodFailed {
		t.Fatalf("expected MethodFailed, got %v", res.Method)
	}
}

func TestExtract_RespectsContextCancellationDuringDelay(t *testing.T) {
	x := New(Config{MaxWorkers: 1, PerDownloadDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := x.Extract(ctx, "p1", "https://example.invalid/doc.pdf")
	if res.Succeeded() {
		t.Fatal("expected cancellation to fail extraction")
	}
}

func TestExtract_SmallDownloadStaysInMemory(t *testing.T) {
	// Below memory_threshold_bytes: SpilledToDisk must be false even though
	// the body is not a parseable PDF (spec.md §4.B step 1).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 not a real document"))
	}))
	defer srv.Close()

	x := New(Config{MaxWorkers: 1, MemoryThresholdBytes: 1024 * 1024})
	res := x.Extract(context.Background(), "p1", srv.URL+"/small.pdf")
	if res.SpilledToDisk {
		t.Fatal("expected a download under the memory threshold to stay in memory")
	}
}

func TestExtract_OversizedDownloadSpillsToDisk(t *testing.T) {
	// Above memory_threshold_bytes: the extractor must spill to a scoped
	// temp file, and still fall through the chain cleanly when the bytes
	// aren't a real PDF.
	payload := make([]byte, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	x := New(Config{MaxWorkers: 1, MemoryThresholdBytes: 64, MaxResponseBytes: 1024 * 1024})
	res := x.Extract(context.Background(), "p1", srv.URL+"/big.pdf")
	if !res.SpilledToDisk {
		t.Fatal("expected a download over the memory threshold to spill to disk")
	}
	if res.Succeeded() {
		t.Fatal("expected non-PDF bytes to fail extraction regardless of spill")
	}
}
