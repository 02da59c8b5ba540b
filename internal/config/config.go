// Package config holds the configuration record supplied to the orchestrator.
// Loading it from flags, environment, or a file is an external collaborator's
// job (out of scope for this package); Config is a plain data record with
// sensible defaults, mirroring the teacher's own internal/config package.
package config

import "time"

// API holds settings for the paginated list-endpoint client (component A).
type API struct {
	BaseURL           string
	WindowStart       time.Time
	WindowEnd         time.Time
	HTTPTimeoutSec    int
	RetryAttempts     int
	RetryBackoffBase  float64
	PageLimit         int // 0 means unlimited
}

// Extraction holds settings for the PDF extractor (component B).
type Extraction struct {
	MaxWorkers           int
	PerDownloadDelaySec  float64
	MemoryThresholdBytes int64
	EnableOCR            bool
	OCRBinary            string // path to the tesseract binary, when EnableOCR
	MaxResponseBytes     int64
	RetryAttempts        int // additional download attempts after the first
}

// Spatial holds settings for the location extractor (component C).
type Spatial struct {
	GazetteerPath  string
	NERModel       string // "" or "heuristic" selects the bundled heuristic tagger
	FuzzyThreshold float64
	BlocklistPath  string
}

// Geocoding holds settings for the geocoder (component D).
type Geocoding struct {
	ServiceURL   string
	RateLimitSec float64
	TimeoutSec   int
	Retries      int
	VerifyTLS    bool
	CacheSize    int
}

// Storage holds settings for the writers (component F).
type Storage struct {
	BasePath          string
	PartitionCols     []string
	ParquetCompression string // "snappy" | "zstd" | "gzip"
}

// Orchestrator holds settings for the batch driver (component G).
type Orchestrator struct {
	BatchSize       int
	PaperLimit      int // 0 means unlimited
	SkipExisting    bool
	ReprocessFailed bool
}

// State holds settings for the state store (component E).
type State struct {
	DBPath string
}

// Config is the full configuration record for a single orchestrator run.
type Config struct {
	City         string
	API          API
	Extraction   Extraction
	Spatial      Spatial
	Geocoding    Geocoding
	Storage      Storage
	Orchestrator Orchestrator
	State        State
}

// Default returns a Config populated with the defaults spelled out in the
// external interface contract (spec.md §6 / SPEC_FULL.md §6).
func Default() *Config {
	return &Config{
		API: API{
			HTTPTimeoutSec:   30,
			RetryAttempts:    5,
			RetryBackoffBase: 2.0,
		},
		Extraction: Extraction{
			MaxWorkers:           3,
			PerDownloadDelaySec:  1.0,
			MemoryThresholdBytes: 10 * 1024 * 1024,
			EnableOCR:            false,
			OCRBinary:            "tesseract",
			MaxResponseBytes:     50 * 1024 * 1024,
			RetryAttempts:        2,
		},
		Spatial: Spatial{
			FuzzyThreshold: 0.85,
		},
		Geocoding: Geocoding{
			RateLimitSec: 1.0,
			TimeoutSec:   10,
			Retries:      3,
			VerifyTLS:    true,
			CacheSize:    4096,
		},
		Storage: Storage{
			PartitionCols:      []string{"city", "year", "month"},
			ParquetCompression: "snappy",
		},
		Orchestrator: Orchestrator{
			BatchSize:       50,
			SkipExisting:    true,
			ReprocessFailed: false,
		},
	}
}
