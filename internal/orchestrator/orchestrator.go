// Package orchestrator implements component G: the single-goroutine batch
// driver that pulls Papers from the API client, runs them through
// extraction, location extraction, and geocoding with a bounded worker
// pool per batch, hands each completed batch to the writers, and
// checkpoints before moving on (SPEC_FULL.md §4.G, §5).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ratsarchiv/pipeline/internal/apiclient"
	"github.com/ratsarchiv/pipeline/internal/config"
	"github.com/ratsarchiv/pipeline/internal/extractor"
	"github.com/ratsarchiv/pipeline/internal/geocode"
	"github.com/ratsarchiv/pipeline/internal/location"
	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/model"
	"github.com/ratsarchiv/pipeline/internal/state"
	"github.com/ratsarchiv/pipeline/internal/writer"
)

// Deps bundles the already-constructed collaborators a Run needs. Building
// these (HTTP clients, gazetteer, state store) is the caller's job — kept
// out of this package so tests can substitute fakes for every one of them,
// mirroring the teacher's own main.go construction order (open db, load
// reference data, construct clients, then run).
type Deps struct {
	API        *apiclient.Client
	Extractor  *extractor.Extractor
	LocConfig  location.Config
	Geocoder   *geocode.Geocoder
	State      *state.Store
	Columnar   *writer.ColumnarWriter
	Graph      *writer.GraphWriter
	GeoJSON    *writer.GeoJSONWriter
	GeoJSONOut string
	TurtleOut  string
}

// paperOutcome is the in-memory result of fully processing one Paper,
// collected before handing a batch to the writers — no writer call ever
// sees a partial batch.
type paperOutcome struct {
	paper      model.Paper
	extraction model.ExtractionResult
	locations  []model.Location
	failed     bool
	skipped    bool
	errMsg     string
}

// Run drives the full pipeline to completion or paper_limit, whichever
// comes first, checkpointing after every batch. It returns a non-nil error
// when the state store fails or a batch fails (a writer error marks that
// batch's Papers failed, leaves the checkpoint where it was, and stops the
// run); per-Paper failures are recorded in the state store and the run
// continues.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (model.RunRecord, error) {
	runID := uuid.NewString()
	startedAt := time.Now()

	if err := deps.State.BeginRun(runID, cfg.City, startedAt); err != nil {
		return model.RunRecord{}, fmt.Errorf("begin run: %w", err)
	}

	if cfg.Orchestrator.ReprocessFailed {
		n, err := deps.State.ResetFailedForCity(cfg.City, startedAt)
		if err != nil {
			logger.Error("ORCHESTRATOR", "reset failed papers: "+err.Error())
		} else if n > 0 {
			logger.Info("ORCHESTRATOR", fmt.Sprintf("reprocess_failed: reset %d failed paper(s) to pending", n))
		}
	}

	rec := model.RunRecord{RunID: runID, City: cfg.City, StartedAt: startedAt}

	batchSize := cfg.Orchestrator.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var batch []model.Paper
	batchSeq := 0
	fatal := false

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batchSeq++
		if err := processBatch(ctx, cfg, deps, runID, batch, &rec); err != nil {
			logger.Error("ORCHESTRATOR", fmt.Sprintf("batch %d failed: %v", batchSeq, err))
			return err
		}
		last := batch[len(batch)-1]
		if err := deps.State.WriteCheckpoint(model.Checkpoint{RunID: runID, BatchSeq: batchSeq, LastCompletedPaper: last.ID}); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		batch = batch[:0]
		return nil
	}

papers:
	for res := range deps.API.IteratePapers(ctx) {
		if res.Err != nil {
			logger.Error("ORCHESTRATOR", "fetch terminated: "+res.Err.Error())
			break
		}
		rec.Fetched++

		if cfg.Orchestrator.SkipExisting {
			done, err := deps.State.IsCompleted(res.Paper.ID)
			if err != nil {
				fatal = true
				break papers
			}
			if done {
				rec.Skipped++
				continue
			}
		}

		batch = append(batch, res.Paper)
		if cfg.Orchestrator.PaperLimit > 0 && rec.Fetched >= cfg.Orchestrator.PaperLimit {
			if err := flush(); err != nil {
				fatal = true
			}
			break
		}
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				fatal = true
				break
			}
		}

		select {
		case <-ctx.Done():
			break papers
		default:
		}
	}

	if !fatal {
		if err := flush(); err != nil {
			fatal = true
		}
	}

	rec.EndedAt = time.Now()
	if fatal {
		rec.TerminalStatus = "error"
	} else {
		rec.TerminalStatus = "ok"
		if err := finalize(deps); err != nil {
			logger.Error("ORCHESTRATOR", "finalize: "+err.Error())
			rec.TerminalStatus = "error"
		}
	}

	if err := deps.State.EndRun(rec); err != nil {
		logger.Error("ORCHESTRATOR", "end run: "+err.Error())
	}

	if fatal {
		return rec, fmt.Errorf("run %s terminated with a fatal error", runID)
	}
	return rec, nil
}

// processBatch marks every Paper in-progress, runs extraction with a
// bounded worker pool (fan out over sync.WaitGroup, collect into an indexed
// result slice, wait — the teacher's FetchSystemStructures shape), runs location
// extraction and geocoding per Paper sequentially, and hands the full batch
// to the writers. A panic-free unexpected failure mid-batch downgrades
// every in-progress Paper in this batch to failed and returns an error
// without advancing the checkpoint.
func processBatch(ctx context.Context, cfg *config.Config, deps Deps, runID string, batch []model.Paper, rec *model.RunRecord) error {
	now := time.Now()
	for _, p := range batch {
		if err := deps.State.Mark(runID, p.ID, model.StatusInProgress, 0, "", now); err != nil {
			return fmt.Errorf("mark in-progress: %w", err)
		}
	}

	outcomes := make([]paperOutcome, len(batch))
	var wg sync.WaitGroup
	for i, p := range batch {
		wg.Add(1)
		go func(idx int, paper model.Paper) {
			defer wg.Done()
			outcomes[idx] = extractOne(ctx, deps, paper)
		}(i, p)
	}
	wg.Wait()

	for i := range outcomes {
		runLocationAndGeocode(ctx, cfg, deps, &outcomes[i])
	}

	if err := writeBatch(deps, cfg.City, outcomes); err != nil {
		for _, o := range outcomes {
			deps.State.Mark(runID, o.paper.ID, model.StatusFailed, 0, "batch write failed: "+err.Error(), time.Now())
		}
		rec.Failed += len(outcomes)
		return fmt.Errorf("write batch: %w", err)
	}

	for _, o := range outcomes {
		if o.skipped {
			deps.State.Mark(runID, o.paper.ID, model.StatusSkipped, 0, o.errMsg, time.Now())
			rec.Skipped++
			continue
		}
		if o.failed {
			deps.State.Mark(runID, o.paper.ID, model.StatusFailed, 0, o.errMsg, time.Now())
			rec.Failed++
			continue
		}
		deps.State.Mark(runID, o.paper.ID, model.StatusCompleted, 0, "", time.Now())
		rec.Processed++
		rec.LocationsExtracted += len(o.locations)
		for _, loc := range o.locations {
			if loc.HasCoords {
				rec.LocationsGeocoded++
			}
		}
	}
	return nil
}

func extractOne(ctx context.Context, deps Deps, paper model.Paper) paperOutcome {
	o := paperOutcome{paper: paper}
	if !paper.HasAccessibleFile() {
		// model.Paper's invariant (spec.md §3): recorded as skipped, not failed.
		o.skipped = true
		o.errMsg = "no accessible file"
		return o
	}
	// The main file is optional (spec.md §3); fall back to the first
	// accessible file descriptor rather than failing a Paper that has a
	// usable PDF among its auxiliary files.
	mf, ok := paper.MainFile()
	if !ok {
		mf = paper.Files[0]
	}
	o.extraction = deps.Extractor.Extract(ctx, paper.ID, mf.AccessURL)
	if !o.extraction.Succeeded() {
		o.failed = true
		o.errMsg = o.extraction.Error
	}
	return o
}

func runLocationAndGeocode(ctx context.Context, cfg *config.Config, deps Deps, o *paperOutcome) {
	if o.failed || o.skipped {
		return
	}
	candidates := location.Extract(o.extraction.Text, deps.LocConfig)
	for _, c := range candidates {
		loc := deps.Geocoder.Resolve(ctx, o.paper.ID, o.extraction.PDFURL, c)
		o.locations = append(o.locations, loc)
	}
}

func writeBatch(deps Deps, city string, outcomes []paperOutcome) error {
	byPartition := make(map[string][]writer.PaperRow)
	for _, o := range outcomes {
		if o.failed || o.skipped {
			continue
		}
		if deps.Graph != nil {
			if err := deps.Graph.AppendPaper(o.paper); err != nil {
				return err
			}
		}
		var rows []writer.LocationRow
		for _, loc := range o.locations {
			rows = append(rows, writer.ToLocationRow(loc))
			if deps.Graph != nil {
				if err := deps.Graph.AppendLocation(loc); err != nil {
					return err
				}
			}
			if deps.GeoJSON != nil {
				deps.GeoJSON.AddLocation(loc, o.paper.Title, o.paper.Date.Format("2006-01-02"))
			}
		}
		year, month := o.paper.Date.Year(), int(o.paper.Date.Month())
		key := fmt.Sprintf("%04d-%02d", year, month)
		byPartition[key] = append(byPartition[key], writer.PaperRow{
			PaperID:          o.paper.ID,
			Title:            o.paper.Title,
			Reference:        o.paper.Reference,
			Date:             o.paper.Date.Format("2006-01-02"),
			DocumentType:     o.paper.DocumentType,
			PDFURL:           o.extraction.PDFURL,
			ExtractionMethod: string(o.extraction.Method),
			City:             city,
			Year:             year,
			Month:            month,
			Locations:        rows,
		})
	}

	if deps.Columnar == nil {
		return nil
	}
	for key, rows := range byPartition {
		var year, month int
		fmt.Sscanf(key, "%04d-%02d", &year, &month)
		if len(rows) == 0 {
			continue
		}
		if err := deps.Columnar.Flush(rows[0].City, year, month, rows); err != nil {
			return err
		}
	}
	return nil
}

// finalize rewrites the append-only graph into Turtle and writes the
// GeoJSON FeatureCollection, called once at clean run exit.
func finalize(deps Deps) error {
	if deps.Graph != nil && deps.TurtleOut != "" {
		if err := deps.Graph.FinalizeTurtle(deps.TurtleOut); err != nil {
			return fmt.Errorf("finalize turtle: %w", err)
		}
		if err := deps.Graph.Close(); err != nil {
			return fmt.Errorf("close graph writer: %w", err)
		}
	}
	if deps.GeoJSON != nil && deps.GeoJSONOut != "" {
		if err := deps.GeoJSON.Finalize(deps.GeoJSONOut); err != nil {
			return fmt.Errorf("finalize geojson: %w", err)
		}
	}
	return nil
}
