package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ratsarchiv/pipeline/internal/apiclient"
	"github.com/ratsarchiv/pipeline/internal/config"
	"github.com/ratsarchiv/pipeline/internal/extractor"
	"github.com/ratsarchiv/pipeline/internal/geocode"
	"github.com/ratsarchiv/pipeline/internal/location"
	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/orchestrator"
	"github.com/ratsarchiv/pipeline/internal/state"
	"github.com/ratsarchiv/pipeline/internal/writer"
)

var version = "dev"

func main() {
	city := flag.String("city", "", "City name, used to scope the run and partition output")
	baseURL := flag.String("base-url", "", "OParl-style list endpoint base URL")
	geocodeURL := flag.String("geocode-url", "", "Remote geocoding service URL")
	outDir := flag.String("out", "data", "Output directory for writer sinks and the state database")
	enableOCR := flag.Bool("ocr", false, "Enable the tesseract OCR fallback")
	paperLimit := flag.Int("limit", 0, "Stop after this many papers (0 = unlimited)")
	gazetteerPath := flag.String("gazetteer", "", "Path to a newline-delimited JSON gazetteer export (optional)")
	reprocessFailed := flag.Bool("reprocess-failed", false, "Reset papers failed in a prior run for this city back to pending before starting")
	flag.Parse()

	logger.Banner(version)

	if *city == "" || *baseURL == "" {
		logger.Error("MAIN", "-city and -base-url are required")
		os.Exit(1)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Error("MAIN", fmt.Sprintf("create output dir: %v", err))
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.City = *city
	cfg.API.BaseURL = *baseURL
	cfg.Extraction.EnableOCR = *enableOCR
	cfg.Geocoding.ServiceURL = *geocodeURL
	cfg.Orchestrator.PaperLimit = *paperLimit
	cfg.Orchestrator.ReprocessFailed = *reprocessFailed
	cfg.Spatial.GazetteerPath = *gazetteerPath
	cfg.State.DBPath = filepath.Join(*outDir, "pipeline_state.db")

	st, err := state.Open(cfg.State.DBPath)
	if err != nil {
		logger.Error("MAIN", fmt.Sprintf("open state store: %v", err))
		os.Exit(1)
	}
	defer st.Close()

	gazEntries, err := location.LoadGazetteerFile(cfg.Spatial.GazetteerPath)
	if err != nil {
		logger.Error("MAIN", fmt.Sprintf("load gazetteer: %v", err))
		os.Exit(1)
	}
	gaz := location.NewGazetteer(gazEntries)
	locCfg := location.Config{
		Gazetteer:      gaz,
		Tagger:         location.NewEntityTagger(cfg.Spatial.NERModel),
		FuzzyThreshold: cfg.Spatial.FuzzyThreshold,
	}

	api := apiclient.New(apiclient.Config{
		BaseURL:          cfg.API.BaseURL,
		HTTPTimeoutSec:   cfg.API.HTTPTimeoutSec,
		RetryAttempts:    cfg.API.RetryAttempts,
		RetryBackoffBase: cfg.API.RetryBackoffBase,
		PageLimit:        cfg.API.PageLimit,
	})

	ex := extractor.New(extractor.Config{
		MaxWorkers:           cfg.Extraction.MaxWorkers,
		PerDownloadDelay:     time.Duration(cfg.Extraction.PerDownloadDelaySec * float64(time.Second)),
		MemoryThresholdBytes: cfg.Extraction.MemoryThresholdBytes,
		MaxResponseBytes:     cfg.Extraction.MaxResponseBytes,
		RetryAttempts:        cfg.Extraction.RetryAttempts,
		EnableOCR:            cfg.Extraction.EnableOCR,
		OCREngine:            extractor.TesseractEngine{Binary: cfg.Extraction.OCRBinary},
	})

	geo := geocode.New(gaz, geocode.Config{
		ServiceURL:         cfg.Geocoding.ServiceURL,
		RateLimitSec:       cfg.Geocoding.RateLimitSec,
		TimeoutSec:         cfg.Geocoding.TimeoutSec,
		Retries:            cfg.Geocoding.Retries,
		InsecureSkipVerify: !cfg.Geocoding.VerifyTLS,
		CacheSize:          cfg.Geocoding.CacheSize,
	})

	graph, err := writer.NewGraphWriter(filepath.Join(*outDir, "metadata.nt"), "https://ratsarchiv.example.org")
	if err != nil {
		logger.Error("MAIN", fmt.Sprintf("open graph writer: %v", err))
		os.Exit(1)
	}

	deps := orchestrator.Deps{
		API:        api,
		Extractor:  ex,
		LocConfig:  locCfg,
		Geocoder:   geo,
		State:      st,
		Columnar:   writer.NewColumnarWriter(filepath.Join(*outDir, "council_data.parquet"), cfg.Storage.ParquetCompression),
		Graph:      graph,
		GeoJSON:    writer.NewGeoJSONWriter(),
		GeoJSONOut: filepath.Join(*outDir, cfg.City+"_map.geojson"),
		TurtleOut:  filepath.Join(*outDir, "metadata.ttl"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := orchestrator.Run(ctx, cfg, deps)
	logger.Section("Run summary")
	logger.Stats("fetched", rec.Fetched)
	logger.Stats("processed", rec.Processed)
	logger.Stats("failed", rec.Failed)
	logger.Stats("skipped", rec.Skipped)
	logger.Stats("locations_extracted", rec.LocationsExtracted)
	logger.Stats("locations_geocoded", rec.LocationsGeocoded)

	if err != nil {
		logger.Error("MAIN", err.Error())
		os.Exit(1)
	}
}
