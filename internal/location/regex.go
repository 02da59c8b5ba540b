package location

import (
	"regexp"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// Structured-reference patterns for the regex pass: development-plan
// references, parcel/lot numbers, and street-address-like strings, matching
// common German municipal-document idiom (spec.md §4.C).
var (
	planReferenceRe = regexp.MustCompile(`\b(?:Bebauungsplan|B-Plan|Flächennutzungsplan)\s*(?:Nr\.?\s*)?([A-Z0-9][A-Za-z0-9/.\-]{1,20})\b`)
	parcelNumberRe  = regexp.MustCompile(`\b(?:Flurstück(?:e)?|Flur)\s*(?:Nr\.?\s*)?(\d+(?:/\d+)?(?:,\s*\d+(?:/\d+)?)*)\b`)
	streetAddressRe = regexp.MustCompile(`\b([A-ZÄÖÜ][a-zäöüß]+(?:straße|strasse|weg|allee|platz|gasse|ring|damm))\s*(\d{1,4}[a-zA-Z]?)\b`)
)

// Scan runs the structured-reference regex pass over text, independent of
// gazetteer membership — these patterns are trusted by shape alone.
func Scan(text string) []model.CandidateToponym {
	var out []model.CandidateToponym

	for _, m := range planReferenceRe.FindAllStringSubmatch(text, -1) {
		out = append(out, model.CandidateToponym{
			Surface:  m[0],
			Category: model.CategoryPlanReference,
			Tag:      model.TagRegex,
		})
	}
	for _, m := range parcelNumberRe.FindAllStringSubmatch(text, -1) {
		out = append(out, model.CandidateToponym{
			Surface:  m[0],
			Category: model.CategoryParcelNumber,
			Tag:      model.TagRegex,
		})
	}
	for _, m := range streetAddressRe.FindAllStringSubmatch(text, -1) {
		out = append(out, model.CandidateToponym{
			Surface:  m[1] + " " + m[2],
			Category: model.CategoryStreet,
			Tag:      model.TagRegex,
		})
	}
	return out
}
