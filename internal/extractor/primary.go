package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// primaryText extracts the embedded text layer via ledongthuc/pdf, the fast
// path used when the source PDF carries a real text layer rather than
// scanned images. Returns the concatenated per-page plain text and the page
// count.
func primaryText(path string) (text string, pageCount int, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return readPrimaryText(r)
}

// primaryTextFromMemory is primaryText's in-memory counterpart, used when
// the download fit within extraction.memory_threshold_bytes and was never
// spilled to a scoped temp file.
func primaryTextFromMemory(data []byte) (text string, pageCount int, err error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	return readPrimaryText(r)
}

func readPrimaryText(r *pdf.Reader) (text string, pageCount int, err error) {
	pageCount = r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// A single malformed page shouldn't sink the whole document;
			// the layout/OCR fallback runs if the document yields no text.
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), pageCount, nil
}

// isUsable reports whether extracted text should be accepted rather than
// falling through to the next extraction method. Spec.md §4.B falls through
// only when the result is empty or whitespace-only — a short but genuine
// text layer (e.g. a single street address) is still usable.
func isUsable(text string) bool {
	return strings.TrimSpace(text) != ""
}
