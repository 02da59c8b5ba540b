// Package location implements component C: turning extracted PDF text into
// a deduplicated list of model.CandidateToponym values via three passes —
// gazetteer, regex, NER — each tagging how a candidate was found.
package location

import (
	"regexp"
	"strings"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// Gazetteer is a read-only, case-folded index of known place names, built
// once at startup. Modeled on the teacher's sde.Data.SystemByName /
// RegionByName lowercase-keyed lookup maps.
type Gazetteer struct {
	byNormalized map[string]model.GazetteerEntry
	// words, longest first, used to build the whole-word scan pattern.
	scanPattern *regexp.Regexp
	surfaceOf   map[string]string // normalized -> original matched surface form (for pattern group lookup)
}

// NewGazetteer indexes entries by their canonical name and every alias,
// normalized (lowercased, trimmed).
func NewGazetteer(entries []model.GazetteerEntry) *Gazetteer {
	g := &Gazetteer{
		byNormalized: make(map[string]model.GazetteerEntry),
		surfaceOf:    make(map[string]string),
	}
	var words []string
	add := func(surface string, e model.GazetteerEntry) {
		norm := normalize(surface)
		if norm == "" {
			return
		}
		if _, exists := g.byNormalized[norm]; !exists {
			g.byNormalized[norm] = e
			g.surfaceOf[norm] = surface
			words = append(words, regexp.QuoteMeta(surface))
		}
	}
	for _, e := range entries {
		add(e.Canonical, e)
		for _, alias := range e.Aliases {
			add(alias, e)
		}
	}
	if len(words) == 0 {
		return g
	}
	// Longest-first so overlapping names (e.g. "Altstadt" vs "Altstadt Nord")
	// prefer the more specific match.
	sortByLengthDesc(words)
	g.scanPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
	return g
}

func sortByLengthDesc(words []string) {
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && len(words[j]) > len(words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}
}

// Lookup resolves a normalized surface string to its gazetteer entry.
func (g *Gazetteer) Lookup(surface string) (model.GazetteerEntry, bool) {
	e, ok := g.byNormalized[normalize(surface)]
	return e, ok
}

// Scan performs the first extraction pass: a case-insensitive whole-word
// scan of text against every canonical name and alias in the gazetteer.
func (g *Gazetteer) Scan(text string) []model.CandidateToponym {
	if g.scanPattern == nil {
		return nil
	}
	var out []model.CandidateToponym
	for _, m := range g.scanPattern.FindAllString(text, -1) {
		entry, ok := g.Lookup(m)
		if !ok {
			continue
		}
		out = append(out, model.CandidateToponym{
			Surface:  entry.Canonical,
			Category: entry.Category,
			Tag:      model.TagGazetteerDirect,
		})
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
