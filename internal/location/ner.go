package location

import (
	"regexp"
	"strings"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// EntityTagger recognizes place-name-shaped spans in free text. It is an
// interface so the heuristic default can be swapped for a real model later
// without touching callers — the teacher applies the same seam around
// external name resolution (esi.StationNameResolver).
type EntityTagger interface {
	Tag(text string) []string
}

// heuristicTagger recognizes capitalized German compound words ending in a
// toponym suffix. No NER library exists anywhere in the retrieval pack (see
// DESIGN.md), so this is the stdlib-only fallback named by spatial.ner_model
// == "heuristic".
type heuristicTagger struct{}

var capitalizedWordRe = regexp.MustCompile(`\b[A-ZÄÖÜ][a-zäöüß]{2,}(?:[a-zäöüß-]*[a-zäöüß])?\b`)

var toponymSuffixes = []string{
	"straße", "strasse", "weg", "allee", "platz", "gasse", "ring", "damm",
	"siedlung", "viertel", "dorf", "hausen", "feld", "tal", "berg",
}

// isToponymShaped reports whether word looks like a German place name by
// its morphology, mirroring the teacher's small named boolean-predicate
// style (isNPCStation/isPlayerStructure) rather than an inline condition.
func isToponymShaped(word string) bool {
	lower := strings.ToLower(word)
	for _, suf := range toponymSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

// Tag returns every capitalized, toponym-suffixed word found in text,
// deduplicated in first-seen order.
func (heuristicTagger) Tag(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range capitalizedWordRe.FindAllString(text, -1) {
		if !isToponymShaped(w) {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// NewEntityTagger constructs the tagger named by model, defaulting to the
// heuristic implementation for "" and "heuristic".
func NewEntityTagger(name string) EntityTagger {
	switch name {
	case "", "heuristic":
		return heuristicTagger{}
	default:
		return heuristicTagger{}
	}
}
