package location

import (
	"github.com/hbollon/go-edlib"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// Config holds the settings the location extractor needs (SPEC_FULL.md §6,
// `spatial.*`).
type Config struct {
	Gazetteer      *Gazetteer
	Tagger         EntityTagger // nil disables the NER pass entirely
	FuzzyThreshold float64      // similarity in [0,1]; e.g. 0.85
	Blocklist      map[string]bool
}

// Extract is the total function described in spec.md §4.C: empty text
// yields an empty slice, never an error. It runs gazetteer, regex, and NER
// passes in that order and deduplicates by (canonical_name, category),
// keeping the first (highest-confidence) provenance seen for each key.
func Extract(text string, cfg Config) []model.CandidateToponym {
	if text == "" {
		return nil
	}

	var all []model.CandidateToponym
	if cfg.Gazetteer != nil {
		all = append(all, cfg.Gazetteer.Scan(text)...)
	}
	all = append(all, Scan(text)...)
	if cfg.Tagger != nil {
		all = append(all, nerPass(text, cfg)...)
	}

	return dedup(all)
}

// nerPass runs the EntityTagger over text and fuzzy-validates each hit
// against the gazetteer: a close match (Levenshtein distance of at most
// maxFuzzyEdits, or similarity at or above cfg.FuzzyThreshold) is accepted as that gazetteer entry with
// TagNERValidated; otherwise, unless the surface is blocklisted, it is kept
// as an unresolved OtherPlace with TagNERRaw.
func nerPass(text string, cfg Config) []model.CandidateToponym {
	var out []model.CandidateToponym
	tags := cfg.Tagger.Tag(text)
	threshold := cfg.FuzzyThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	for _, surface := range tags {
		if cfg.Blocklist != nil && cfg.Blocklist[normalize(surface)] {
			continue
		}
		if cfg.Gazetteer != nil {
			if entry, ok := bestFuzzyMatch(surface, cfg.Gazetteer, threshold); ok {
				out = append(out, model.CandidateToponym{
					Surface:  entry.Canonical,
					Category: entry.Category,
					Tag:      model.TagNERValidated,
				})
				continue
			}
		}
		out = append(out, model.CandidateToponym{
			Surface:  surface,
			Category: model.CategoryOtherPlace,
			Tag:      model.TagNERRaw,
		})
	}
	return out
}

// maxFuzzyEdits is the Levenshtein distance at or below which a NER hit is
// accepted as a gazetteer entry regardless of the similarity threshold.
const maxFuzzyEdits = 2

// bestFuzzyMatch finds the gazetteer entry whose normalized canonical name
// is most similar to surface by Levenshtein similarity, accepting it only if
// the similarity meets threshold or the edit distance is at most
// maxFuzzyEdits.
func bestFuzzyMatch(surface string, g *Gazetteer, threshold float64) (model.GazetteerEntry, bool) {
	norm := normalize(surface)
	var best model.GazetteerEntry
	var bestScore float64
	found := false
	for candidate, entry := range g.byNormalized {
		score, err := edlib.StringsSimilarity(norm, candidate, edlib.Levenshtein)
		if err != nil {
			continue
		}
		near := float64(score) >= threshold || edlib.LevenshteinDistance(norm, candidate) <= maxFuzzyEdits
		if near && float64(score) > bestScore {
			best, bestScore, found = entry, float64(score), true
		}
	}
	return best, found
}

// dedup collapses candidates sharing a (canonical surface, category) key to
// one entry with a Count of how many occurrences were collapsed into it
// (spec.md §4.C), keeping the first (and thus highest-confidence-pass)
// candidate's Surface/Category/Tag.
func dedup(candidates []model.CandidateToponym) []model.CandidateToponym {
	index := make(map[model.LocationKey]int)
	var out []model.CandidateToponym
	for _, c := range candidates {
		key := model.LocationKey{CanonicalName: c.Surface, Category: c.Category}
		if i, ok := index[key]; ok {
			out[i].Count++
			continue
		}
		c.Count = 1
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}
