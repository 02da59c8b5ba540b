package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ratsarchiv/pipeline/internal/apiclient"
	"github.com/ratsarchiv/pipeline/internal/config"
	"github.com/ratsarchiv/pipeline/internal/extractor"
	"github.com/ratsarchiv/pipeline/internal/geocode"
	"github.com/ratsarchiv/pipeline/internal/location"
	"github.com/ratsarchiv/pipeline/internal/model"
	"github.com/ratsarchiv/pipeline/internal/state"
)

// nilGazetteer never resolves anything via the gazetteer short-circuit.
type nilGazetteer struct{}

func (nilGazetteer) Lookup(string) (model.GazetteerEntry, bool) {
	return model.GazetteerEntry{}, false
}

func openTestState(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory state store: %v", err)
	}
	return s
}

func newPaperServer(t *testing.T, pdfServerURL string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id": "p1", "name": "Erste Vorlage", "date": "2024-01-10",
					"mainFile": map[string]any{"accessUrl": pdfServerURL + "/p1.pdf", "mimetype": "application/pdf"},
				},
				{
					"id": "p2", "name": "Zweite Vorlage", "date": "2024-02-11",
					"mainFile": map[string]any{"accessUrl": pdfServerURL + "/p2.pdf", "mimetype": "application/pdf"},
				},
			},
			"links": map[string]any{"next": ""},
		})
	}))
}

func TestRun_ContinuesPastExtractionFailures(t *testing.T) {
	pdfServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Not a parseable PDF: forces every extraction method to fail,
		// exercising the "record failure, keep going" path (no OCR configured).
		w.Write([]byte("not a pdf"))
	}))
	defer pdfServer.Close()

	paperServer := newPaperServer(t, pdfServer.URL)
	defer paperServer.Close()

	st := openTestState(t)
	defer st.Close()

	cfg := config.Default()
	cfg.City = "Frankfurt"
	cfg.API.BaseURL = paperServer.URL
	cfg.Orchestrator.BatchSize = 10

	deps := Deps{
		API:       apiclient.New(apiclient.Config{BaseURL: paperServer.URL, HTTPTimeoutSec: 5, RetryAttempts: 0}),
		Extractor: extractor.New(extractor.Config{MaxWorkers: 2}),
		LocConfig: location.Config{},
		Geocoder:  geocode.New(nilGazetteer{}, geocode.Config{}),
		State:     st,
	}

	rec, err := Run(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Fetched != 2 {
		t.Fatalf("expected 2 fetched, got %d", rec.Fetched)
	}
	if rec.Failed != 2 {
		t.Fatalf("expected both papers to fail extraction, got failed=%d processed=%d", rec.Failed, rec.Processed)
	}
	if rec.TerminalStatus != "ok" {
		t.Fatalf("expected terminal status ok (run completes even with per-paper failures), got %q", rec.TerminalStatus)
	}

	ids, err := st.FailedPaperIDs(rec.RunID)
	if err != nil {
		t.Fatalf("FailedPaperIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 failed paper ids recorded, got %v", ids)
	}
}

func TestRun_SkipsAlreadyCompletedPapers(t *testing.T) {
	pdfServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a pdf"))
	}))
	defer pdfServer.Close()
	paperServer := newPaperServer(t, pdfServer.URL)
	defer paperServer.Close()

	st := openTestState(t)
	defer st.Close()

	// Simulate a prior run that already completed p1.
	now := time.Now()
	if err := st.BeginRun("prior-run", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := st.Mark("prior-run", "p1", model.StatusCompleted, 0, "", now); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	cfg := config.Default()
	cfg.City = "Frankfurt"
	cfg.API.BaseURL = paperServer.URL
	cfg.Orchestrator.BatchSize = 10
	cfg.Orchestrator.SkipExisting = true

	deps := Deps{
		API:       apiclient.New(apiclient.Config{BaseURL: paperServer.URL, HTTPTimeoutSec: 5}),
		Extractor: extractor.New(extractor.Config{MaxWorkers: 2}),
		Geocoder:  geocode.New(nilGazetteer{}, geocode.Config{}),
		State:     st,
	}

	rec, err := Run(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Skipped != 1 {
		t.Fatalf("expected p1 to be skipped as already completed, got skipped=%d", rec.Skipped)
	}
	if rec.Failed != 1 {
		t.Fatalf("expected p2 to still be attempted and fail, got failed=%d", rec.Failed)
	}
}

func TestRun_ReprocessFailedResetsPriorRunFailures(t *testing.T) {
	paperServer := newPaperServer(t, "http://unused.invalid")
	defer paperServer.Close()

	st := openTestState(t)
	defer st.Close()

	now := time.Now()
	if err := st.BeginRun("prior-run", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := st.Mark("prior-run", "p1", model.StatusFailed, 1, "boom", now); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	cfg := config.Default()
	cfg.City = "Frankfurt"
	cfg.API.BaseURL = paperServer.URL
	cfg.Orchestrator.BatchSize = 10
	cfg.Orchestrator.ReprocessFailed = true

	deps := Deps{
		API:       apiclient.New(apiclient.Config{BaseURL: paperServer.URL, HTTPTimeoutSec: 5}),
		Extractor: extractor.New(extractor.Config{MaxWorkers: 2}),
		Geocoder:  geocode.New(nilGazetteer{}, geocode.Config{}),
		State:     st,
	}

	if _, err := Run(context.Background(), cfg, deps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ids, err := st.FailedPaperIDs("prior-run")
	if err != nil {
		t.Fatalf("FailedPaperIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected reprocess_failed to reset the prior run's failed papers, still failed: %v", ids)
	}
}

func TestExtractOne_NoAccessibleFileIsSkippedNotFailed(t *testing.T) {
	deps := Deps{Extractor: extractor.New(extractor.Config{MaxWorkers: 1})}
	o := extractOne(context.Background(), deps, model.Paper{ID: "p1"})
	if !o.skipped {
		t.Fatal("expected a Paper with no file descriptors to be skipped")
	}
	if o.failed {
		t.Fatal("expected a Paper with no file descriptors not to be marked failed")
	}
}

func TestExtractOne_FallsBackToFirstFileWhenNoMainFileSelected(t *testing.T) {
	pdfServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a pdf"))
	}))
	defer pdfServer.Close()

	deps := Deps{Extractor: extractor.New(extractor.Config{MaxWorkers: 1})}
	paper := model.Paper{
		ID:            "p1",
		MainFileIndex: -1,
		Files:         []model.FileDescriptor{{AccessURL: pdfServer.URL + "/aux.pdf", MimeType: "application/pdf"}},
	}
	o := extractOne(context.Background(), deps, paper)
	if o.skipped {
		t.Fatal("expected a Paper with an auxiliary file but no main file to be attempted, not skipped")
	}
	if o.extraction.PDFURL != pdfServer.URL+"/aux.pdf" {
		t.Fatalf("expected extraction to fall back to the auxiliary file URL, got %q", o.extraction.PDFURL)
	}
}
