package writer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// GeoJSONWriter accumulates one RFC 7946 Feature per resolved Location in
// memory and marshals the whole FeatureCollection once, on Finalize.
// Unresolved Locations are never added here (spec.md §4.F) — they still
// appear in the columnar and graph sinks.
type GeoJSONWriter struct {
	fc *geojson.FeatureCollection
}

// NewGeoJSONWriter constructs an empty GeoJSONWriter.
func NewGeoJSONWriter() *GeoJSONWriter {
	return &GeoJSONWriter{fc: geojson.NewFeatureCollection()}
}

// AddLocation appends a Feature for loc if and only if it carries resolved
// coordinates. paperName/paperDate populate the Feature's properties
// alongside pdf_url and paper_id, matching spec.md §6's minimum property
// set (canonical_name, category, paper_id, paper_name, paper_date, pdf_url).
func (w *GeoJSONWriter) AddLocation(loc model.Location, paperName, paperDate string) {
	if !loc.HasCoords {
		return
	}
	f := geojson.NewFeature(orb.Point{loc.Lon, loc.Lat})
	f.Properties = geojson.Properties{
		"canonical_name": loc.CanonicalName,
		"category":       string(loc.Category),
		"provenance":     string(loc.Provenance),
		"pdf_url":        loc.PDFURL,
		"paper_id":       loc.PaperID,
		"paper_name":     paperName,
		"paper_date":     paperDate,
	}
	if loc.DisplayName != "" {
		f.Properties["display_name"] = loc.DisplayName
	}
	w.fc.Append(f)
}

// Finalize marshals the accumulated FeatureCollection to path as a single
// JSON document.
func (w *GeoJSONWriter) Finalize(path string) error {
	data, err := json.Marshal(w.fc)
	if err != nil {
		return fmt.Errorf("marshal feature collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write geojson file: %w", err)
	}
	return nil
}

// Len reports the number of Features accumulated so far.
func (w *GeoJSONWriter) Len() int {
	return len(w.fc.Features)
}
