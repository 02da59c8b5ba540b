package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// layoutText is the secondary extraction path: when the primary text layer
// yields no text (empty or whitespace-only), pdfcpu's content-stream extraction recovers the raw Tj/TJ text-showing
// operators page by page. This is cruder than a true layout parser — it
// loses column/table structure — but it recovers text primaryText misses
// when the font's ToUnicode map confuses ledongthuc/pdf.
func layoutText(path string) (text string, pageCount int, err error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf context: %w", err)
	}
	pageCount = ctx.PageCount

	outDir, err := os.MkdirTemp("", "pipeline-layout-*")
	if err != nil {
		return "", pageCount, fmt.Errorf("create content scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, nil); err != nil {
		return "", pageCount, fmt.Errorf("extract content streams: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", pageCount, fmt.Errorf("read content scratch dir: %w", err)
	}

	var sb strings.Builder
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			continue
		}
		sb.WriteString(tokenizeShowText(raw))
		sb.WriteString("\n")
	}
	return sb.String(), pageCount, nil
}

var (
	tjRun  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArr  = regexp.MustCompile(`\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
	tjStr  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
	pdfEsc = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`)
)

// tokenizeShowText pulls the literal-string operands out of Tj and TJ
// text-showing operators in a raw PDF content stream. It does not interpret
// positioning, so words that a real layout engine would space apart may run
// together; the location extractor's gazetteer/regex passes tolerate this.
func tokenizeShowText(content []byte) string {
	var sb strings.Builder
	s := string(content)
	for _, m := range tjRun.FindAllStringSubmatch(s, -1) {
		sb.WriteString(pdfEsc.Replace(m[1]))
		sb.WriteString(" ")
	}
	for _, arr := range tjArr.FindAllStringSubmatch(s, -1) {
		for _, m := range tjStr.FindAllStringSubmatch(arr[1], -1) {
			sb.WriteString(pdfEsc.Replace(m[1]))
		}
		sb.WriteString(" ")
	}
	return sb.String()
}
