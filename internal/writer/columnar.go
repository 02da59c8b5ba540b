package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// LocationRow is the nested row type for a Paper's resolved and unresolved
// Locations, embedded in PaperRow (spec.md §4.F's "nested Locations list").
type LocationRow struct {
	CanonicalName string  `parquet:"canonical_name"`
	Category      string  `parquet:"category"`
	Lat           float64 `parquet:"lat,optional"`
	Lon           float64 `parquet:"lon,optional"`
	HasCoords     bool    `parquet:"has_coords"`
	DisplayName   string  `parquet:"display_name,optional"`
	Provenance    string  `parquet:"provenance"`
	Count         int     `parquet:"count"`
}

// PaperRow is the one schema row per Paper: its metadata, PDF URL,
// extraction method, partition keys, and nested Locations. The extracted
// full text is not stored.
type PaperRow struct {
	PaperID          string        `parquet:"paper_id"`
	Title            string        `parquet:"title"`
	Reference        string        `parquet:"reference,optional"`
	Date             string        `parquet:"date,optional"`
	DocumentType     string        `parquet:"document_type,optional"`
	PDFURL           string        `parquet:"pdf_url,optional"`
	ExtractionMethod string        `parquet:"extraction_method"`
	City             string        `parquet:"city"`
	Year             int           `parquet:"year"`
	Month            int           `parquet:"month"`
	Locations        []LocationRow `parquet:"locations"`
}

// ToLocationRow converts a resolved Location into its columnar row.
func ToLocationRow(l model.Location) LocationRow {
	return LocationRow{
		CanonicalName: l.CanonicalName,
		Category:      string(l.Category),
		Lat:           l.Lat,
		Lon:           l.Lon,
		HasCoords:     l.HasCoords,
		DisplayName:   l.DisplayName,
		Provenance:    string(l.Provenance),
		Count:         l.Count,
	}
}

// ColumnarWriter appends PaperRows into one Parquet file per
// (city, year, month) partition, flushed on demand. One file is produced
// per Flush call per partition, named part-<seq>.parquet, so a long run
// produces a sequence of small files rather than one ever-growing file —
// matching spec.md's "append-only" partitioned-file model.
type ColumnarWriter struct {
	basePath    string
	compression compress.Codec
}

// NewColumnarWriter constructs a ColumnarWriter rooted at basePath, using
// the named compression codec ("snappy", "zstd", "gzip"; anything else
// defaults to snappy).
func NewColumnarWriter(basePath, compression string) *ColumnarWriter {
	return &ColumnarWriter{
		basePath:    basePath,
		compression: compressionCodec(compression),
	}
}

func compressionCodec(name string) compress.Codec {
	switch name {
	case "zstd":
		return &parquet.Zstd
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Snappy
	}
}

// nextSeq inspects dir for existing part-NNN.parquet files and returns the
// next sequence number, so a resumed or second orchestrator invocation (S4)
// appends a new file after the prior run's files rather than truncating
// part-001.parquet via os.Create — the append-only contract of spec.md
// §4.F requires every batch to land in its own new file.
func nextSeq(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	max := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "part-"), ".parquet")
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// Flush writes rows to a new partition file under
// basePath/city=<city>/year=<year>/month=<month>/part-<seq>.parquet.
func (w *ColumnarWriter) Flush(city string, year, month int, rows []PaperRow) error {
	if len(rows) == 0 {
		return nil
	}
	dir := filepath.Join(w.basePath, fmt.Sprintf("city=%s", city), fmt.Sprintf("year=%04d", year), fmt.Sprintf("month=%02d", month))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	seq, err := nextSeq(dir)
	if err != nil {
		return fmt.Errorf("determine next partition sequence: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("part-%03d.parquet", seq))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer f.Close()

	pw := parquet.NewGenericWriter[PaperRow](f, parquet.Compression(w.compression))
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
