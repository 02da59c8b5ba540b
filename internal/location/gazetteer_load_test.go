package location

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ratsarchiv/pipeline/internal/model"
)

func TestLoadGazetteerFile_EmptyPathReturnsNilNoError(t *testing.T) {
	entries, err := LoadGazetteerFile("")
	if err != nil {
		t.Fatalf("expected no error for empty path, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for empty path, got %v", entries)
	}
}

func TestLoadGazetteerFile_ParsesValidLinesSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gazetteer.jsonl")
	data := `{"canonical":"Altstadt","aliases":["Old Town"],"lat":50.1,"lon":8.6,"category":"district"}
not json at all
{"canonical":"Bahnhofstraße","category":"street"}
{"canonical":""}
`
	if err := writeFile(t, path, data); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	entries, err := LoadGazetteerFile(path)
	if err != nil {
		t.Fatalf("LoadGazetteerFile: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 valid entries (malformed and empty-canonical lines skipped), got %d: %+v", len(entries), entries)
	}
	if entries[0].Canonical != "Altstadt" || entries[0].Category != model.CategoryDistrict {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Normalized != "altstadt" {
		t.Fatalf("expected normalized form, got %q", entries[0].Normalized)
	}
	if entries[1].Category != model.CategoryStreet {
		t.Fatalf("expected street category, got %v", entries[1].Category)
	}
}

func TestLoadGazetteerFile_InvalidCategoryFallsBackToOtherPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gazetteer.jsonl")
	if err := writeFile(t, path, `{"canonical":"Marktplatz","category":"not-a-real-category"}`+"\n"); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	entries, err := LoadGazetteerFile(path)
	if err != nil {
		t.Fatalf("LoadGazetteerFile: %v", err)
	}
	if len(entries) != 1 || entries[0].Category != model.CategoryOtherPlace {
		t.Fatalf("expected fallback to other_place, got %+v", entries)
	}
}

func TestLoadGazetteerFile_FeedsNewGazetteer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gazetteer.jsonl")
	if err := writeFile(t, path, `{"canonical":"Altstadt","lat":50.1,"lon":8.6,"category":"district"}`+"\n"); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	entries, err := LoadGazetteerFile(path)
	if err != nil {
		t.Fatalf("LoadGazetteerFile: %v", err)
	}
	gaz := NewGazetteer(entries)
	entry, ok := gaz.Lookup("altstadt")
	if !ok || entry.Canonical != "Altstadt" {
		t.Fatalf("expected loaded entry to be queryable through Gazetteer.Lookup, got %+v ok=%v", entry, ok)
	}
}

func writeFile(t *testing.T, path, data string) error {
	t.Helper()
	return os.WriteFile(path, []byte(data), 0o644)
}
