// Package model holds the data entities shared across every pipeline
// component: Paper, its file descriptors, the products of extraction,
// location resolution, and the state-store's own bookkeeping records.
package model

import (
	"fmt"
	"time"
)

// FileDescriptor is a transient attachment of a Paper, consumed during
// extraction and never persisted as its own entity.
type FileDescriptor struct {
	AccessURL string
	MimeType  string
	SizeBytes int64
	Filename  string
}

// Paper is the central entity: a council document record and the unit of
// processing. ID is the API-assigned identifier and is stable across runs.
type Paper struct {
	ID            string
	Title         string
	Reference     string
	Date          time.Time
	DocumentType  string
	Files         []FileDescriptor
	MainFileIndex int // index into Files, or -1 when no main file was selected
}

// MainFile returns the pre-selected main file descriptor, if any.
func (p Paper) MainFile() (FileDescriptor, bool) {
	if p.MainFileIndex < 0 || p.MainFileIndex >= len(p.Files) {
		return FileDescriptor{}, false
	}
	return p.Files[p.MainFileIndex], true
}

// HasAccessibleFile reports whether the Paper carries at least one file
// descriptor — a Paper with none is recorded as skipped, not failed.
func (p Paper) HasAccessibleFile() bool {
	return len(p.Files) > 0
}

// ExtractionMethod tags how an ExtractionResult's text was produced.
type ExtractionMethod string

const (
	MethodPrimaryText   ExtractionMethod = "primary_text"
	MethodLayoutParser  ExtractionMethod = "layout_parser"
	MethodOCR           ExtractionMethod = "ocr"
	MethodFailed        ExtractionMethod = "failed"
)

// IsValid reports whether m is one of the recognized extraction methods.
func (m ExtractionMethod) IsValid() bool {
	switch m {
	case MethodPrimaryText, MethodLayoutParser, MethodOCR, MethodFailed:
		return true
	}
	return false
}

// ExtractionResult is the total (never-failing) product of the PDF
// extractor: either usable text with a method tag, or MethodFailed with Error
// set. SpilledToDisk records whether the download exceeded the in-memory
// threshold and was processed via a scoped temporary file.
type ExtractionResult struct {
	PaperID       string
	PDFURL        string
	Text          string
	PageCount     int
	Method        ExtractionMethod
	SpilledToDisk bool
	Error         string
}

// Succeeded reports whether usable text was produced.
func (r ExtractionResult) Succeeded() bool {
	return r.Method != MethodFailed && r.Method != ""
}

// ToponymCategory classifies a candidate or resolved location.
type ToponymCategory string

const (
	CategoryStreet        ToponymCategory = "street"
	CategoryDistrict      ToponymCategory = "district"
	CategoryPlanReference ToponymCategory = "plan_reference"
	CategoryParcelNumber  ToponymCategory = "parcel_number"
	CategoryOtherPlace    ToponymCategory = "other_place"
)

func (c ToponymCategory) IsValid() bool {
	switch c {
	case CategoryStreet, CategoryDistrict, CategoryPlanReference, CategoryParcelNumber, CategoryOtherPlace:
		return true
	}
	return false
}

// ExtractionTag records which pass of the location extractor produced a
// CandidateToponym.
type ExtractionTag string

const (
	TagGazetteerDirect ExtractionTag = "gazetteer_direct"
	TagNERValidated    ExtractionTag = "ner_validated"
	TagNERRaw          ExtractionTag = "ner_raw"
	TagRegex           ExtractionTag = "regex"
)

// CandidateToponym is an intermediate product of the location extractor,
// before geocoding has attached (or failed to attach) coordinates.
type CandidateToponym struct {
	Surface  string
	Category ToponymCategory
	Tag      ExtractionTag
	Count    int // occurrences of this (surface, category) collapsed by dedup
}

// Provenance records the source of evidence for a resolved Location's
// coordinates.
type Provenance string

const (
	ProvenanceGazetteer      Provenance = "gazetteer"
	ProvenanceRemoteGeocoder Provenance = "remote-geocoder"
	ProvenanceUnresolved     Provenance = "unresolved"
)

func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceGazetteer, ProvenanceRemoteGeocoder, ProvenanceUnresolved:
		return true
	}
	return false
}

// Location is a resolved (or resolution-attempted) toponym. Every Location
// carries the PaperID and PDFURL of the Paper that produced it — there are
// no orphan Locations.
type Location struct {
	PaperID       string
	PDFURL        string
	Category      ToponymCategory
	CanonicalName string
	Lat           float64
	Lon           float64
	HasCoords     bool
	DisplayName   string
	Provenance    Provenance
	Count         int // number of surface-string occurrences collapsed into this entry
}

// ValidCoordinates reports whether Lat/Lon (when HasCoords) lie within the
// valid WGS84 ranges.
func (l Location) ValidCoordinates() bool {
	if !l.HasCoords {
		return true // absent coordinates are trivially "not invalid"
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// GazetteerEntry is a read-only static reference record loaded at startup.
type GazetteerEntry struct {
	Canonical  string
	Normalized string // lowercase normalized form
	Aliases    []string
	Lat        float64
	Lon        float64
	Category   ToponymCategory
}

// ProcessingStatus is the status of a (run_id, paper_id) processing-state
// record. Transitions form a DAG: Pending -> InProgress -> {Completed,
// Failed, Skipped}; Failed may re-enter Pending via an explicit retry.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusInProgress ProcessingStatus = "in-progress"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusSkipped    ProcessingStatus = "skipped"
)

func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether the DAG in spec.md §3 permits moving from
// s to next.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		switch next {
		case StatusCompleted, StatusFailed, StatusSkipped:
			return true
		}
		return false
	case StatusFailed:
		return next == StatusPending // explicit retry only
	case StatusCompleted, StatusSkipped:
		return false
	}
	return false
}

// ProcessingStateRecord is one record per (run_id, paper_id) pair.
type ProcessingStateRecord struct {
	RunID      string
	PaperID    string
	Status     ProcessingStatus
	FirstSeen  time.Time
	LastUpdate time.Time
	RetryCount int
	LastError  string
}

// RunRecord is one record per orchestrator invocation.
type RunRecord struct {
	RunID              string
	City               string
	StartedAt          time.Time
	EndedAt            time.Time
	Fetched            int
	Processed          int
	Failed             int
	Skipped            int
	LocationsExtracted int
	LocationsGeocoded  int
	TerminalStatus     string
}

// Checkpoint is a periodic durable marker used to resume after a crash.
type Checkpoint struct {
	RunID              string
	BatchSeq           int
	LastCompletedPaper string
}

// LocationKey is the dedup key used by the location extractor: (canonical
// name, category).
type LocationKey struct {
	CanonicalName string
	Category      ToponymCategory
}

func (k LocationKey) String() string {
	return fmt.Sprintf("%s|%s", k.Category, k.CanonicalName)
}
