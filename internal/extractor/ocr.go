package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// OCREngine runs optical character recognition over a rasterized PDF and
// returns the recognized text. It is an interface so tests can substitute a
// fake without a tesseract binary on PATH, matching the teacher's pattern of
// interface-wrapping external collaborators (e.g. esi.StationNameResolver).
type OCREngine interface {
	Recognize(ctx context.Context, pdfPath string) (text string, err error)
}

// TesseractEngine shells out to pdftoppm to rasterize each page to PNG, then
// to the tesseract binary to recognize text on each page image. Both are
// expected on PATH (or Binary/Rasterizer set to absolute paths).
type TesseractEngine struct {
	Binary     string // defaults to "tesseract"
	Rasterizer string // defaults to "pdftoppm"
}

func (e TesseractEngine) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "tesseract"
}

func (e TesseractEngine) rasterizer() string {
	if e.Rasterizer != "" {
		return e.Rasterizer
	}
	return "pdftoppm"
}

// Recognize rasterizes pdfPath into a scratch directory and runs tesseract
// over each page image in order, concatenating the results.
func (e TesseractEngine) Recognize(ctx context.Context, pdfPath string) (string, error) {
	scratch, err := os.MkdirTemp("", "pipeline-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	prefix := filepath.Join(scratch, "page")
	rasterize := exec.CommandContext(ctx, e.rasterizer(), "-png", "-r", "300", pdfPath, prefix)
	if out, err := rasterize.CombinedOutput(); err != nil {
		return "", fmt.Errorf("rasterize %s: %w: %s", pdfPath, err, string(out))
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", fmt.Errorf("read ocr scratch dir: %w", err)
	}
	var images []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".png") {
			images = append(images, filepath.Join(scratch, e.Name()))
		}
	}
	sort.Strings(images)

	var sb strings.Builder
	for _, img := range images {
		cmd := exec.CommandContext(ctx, e.binary(), img, "stdout")
		out, err := cmd.Output()
		if err != nil {
			// One unreadable page shouldn't fail the whole document.
			continue
		}
		sb.Write(out)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
