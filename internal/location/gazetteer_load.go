package location

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/model"
)

// gazetteerRecord is one line of a gazetteer JSONL file: a municipality's
// open-data export of known place, district, and street names with their
// reference coordinates.
type gazetteerRecord struct {
	Canonical string          `json:"canonical"`
	Aliases   []string        `json:"aliases"`
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
	Category  model.ToponymCategory `json:"category"`
}

// LoadGazetteerFile reads a newline-delimited JSON gazetteer export, one
// record per line, and returns the decoded entries. Malformed lines are
// logged and skipped rather than aborting the whole load, matching the
// teacher's readJSONL tolerance for partial SDE exports. An empty or
// whitespace-only path yields no entries and no error — callers run with an
// empty gazetteer rather than failing to start.
func LoadGazetteerFile(path string) ([]model.GazetteerEntry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer file: %w", err)
	}
	defer f.Close()

	var entries []model.GazetteerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec gazetteerRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("GAZETTEER", fmt.Sprintf("%s:%d: skipping malformed record: %v", path, lineNo, err))
			continue
		}
		if rec.Canonical == "" {
			continue
		}
		if !rec.Category.IsValid() {
			rec.Category = model.CategoryOtherPlace
		}
		entries = append(entries, model.GazetteerEntry{
			Canonical:  rec.Canonical,
			Normalized: normalize(rec.Canonical),
			Aliases:    rec.Aliases,
			Lat:        rec.Lat,
			Lon:        rec.Lon,
			Category:   rec.Category,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan gazetteer file: %w", err)
	}
	logger.Stats("gazetteer_entries", len(entries))
	return entries, nil
}
