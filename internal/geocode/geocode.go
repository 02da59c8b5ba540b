// Package geocode implements component D: resolving a CandidateToponym to
// coordinates via gazetteer short-circuit, LRU cache, and a
// rate-limited, single-flight-deduplicated remote geocoding call — in that
// order, cheapest first (SPEC_FULL.md §4.D).
package geocode

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/model"
	"github.com/ratsarchiv/pipeline/internal/retry"
)

// Config holds the settings the geocoder needs (SPEC_FULL.md §6, `geocoding.*`).
type Config struct {
	ServiceURL     string
	LocalitySuffix string // appended to the query, e.g. ", Frankfurt am Main, Germany"
	RateLimitSec   float64
	TimeoutSec     int
	Retries        int
	// InsecureSkipVerify disables TLS certificate verification on the remote
	// geocoding request. Zero value (false) keeps verification on, so callers
	// that build a Config without setting it get the safe default; set to
	// !cfg.Geocoding.VerifyTLS to honor the spec's geocoding.verify_tls flag.
	InsecureSkipVerify bool
	CacheSize          int
}

// Gazetteer is the subset of location.Gazetteer the geocoder needs: a
// lookup from surface string to its pre-known coordinates.
type Gazetteer interface {
	Lookup(surface string) (model.GazetteerEntry, bool)
}

// Geocoder resolves CandidateToponyms into model.Location values. It holds
// exactly the same combination of primitives as the teacher's
// esi.OrderCache (mutex-guarded map + singleflight.Group), substituting a
// real bounded LRU for the hand-rolled map and adding a rate.Limiter so the
// remote service never sees more than one request per RateLimitSec.
type Geocoder struct {
	gaz     Gazetteer
	cache   *lru.Cache[string, cachedResult]
	group   singleflight.Group
	limiter *rate.Limiter
	mu      sync.Mutex // serializes outbound remote calls; the limiter alone only bounds rate
	http    *http.Client
	cfg     Config
}

type cachedResult struct {
	lat, lon    float64
	hasCoords   bool
	displayName string
}

// New constructs a Geocoder. cacheSize <= 0 defaults to 4096 entries.
func New(gaz Gazetteer, cfg Config) *Geocoder {
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	cache, _ := lru.New[string, cachedResult](size)
	limit := cfg.RateLimitSec
	if limit <= 0 {
		limit = 1.0
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Geocoder{
		gaz:     gaz,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(time.Duration(limit*float64(time.Second))), 1),
		http:    httpClient,
		cfg:     cfg,
	}
}

// Resolve fills in coordinates for a CandidateToponym, returning the
// model.Location it becomes. It never errors: failures are represented as
// an unresolved Location with Provenance == ProvenanceUnresolved, matching
// the total-function contract shared with Extract (SPEC_FULL.md §4.D).
func (g *Geocoder) Resolve(ctx context.Context, paperID, pdfURL string, cand model.CandidateToponym) model.Location {
	count := cand.Count
	if count <= 0 {
		count = 1
	}
	base := model.Location{
		PaperID:       paperID,
		PDFURL:        pdfURL,
		Category:      cand.Category,
		CanonicalName: cand.Surface,
		Count:         count,
	}

	if entry, ok := g.gaz.Lookup(cand.Surface); ok {
		base.Lat, base.Lon, base.HasCoords = entry.Lat, entry.Lon, true
		base.DisplayName = entry.Canonical
		base.Provenance = model.ProvenanceGazetteer
		return base
	}

	key := string(cand.Category) + "|" + cand.Surface
	if v, ok := g.cache.Get(key); ok {
		return applyCached(base, v)
	}

	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		return g.fetchRemote(ctx, cand)
	})
	if err != nil {
		base.Provenance = model.ProvenanceUnresolved
		return base
	}
	result := v.(cachedResult)
	g.cache.Add(key, result)
	return applyCached(base, result)
}

func applyCached(base model.Location, v cachedResult) model.Location {
	base.Lat, base.Lon, base.HasCoords = v.lat, v.lon, v.hasCoords
	base.DisplayName = v.displayName
	if v.hasCoords {
		base.Provenance = model.ProvenanceRemoteGeocoder
	} else {
		base.Provenance = model.ProvenanceUnresolved
	}
	if !base.ValidCoordinates() {
		base.HasCoords = false
		base.Lat, base.Lon = 0, 0
		base.Provenance = model.ProvenanceUnresolved
	}
	return base
}

// fetchRemote issues the single in-flight remote geocoding request, serialized
// by mu and throttled by limiter, retried through internal/retry on
// timeout/5xx. A 4xx response or an empty result set is a terminal "not
// found", not a retryable error.
func (g *Geocoder) fetchRemote(ctx context.Context, cand model.CandidateToponym) (cachedResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return cachedResult{}, err
	}

	query := cand.Surface + g.cfg.LocalitySuffix
	policy := retry.Policy{
		MaxAttempts: maxInt(1, g.cfg.Retries+1),
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		RetryablePredicate: func(err error) bool {
			var ge *geocodeError
			if asGeocodeError(err, &ge) {
				return ge.StatusCode == 0 || ge.StatusCode >= 500
			}
			return false
		},
	}

	var result cachedResult
	err := retry.Do(ctx, policy, func(attempt int) error {
		if attempt > 0 {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := g.doRequest(ctx, query)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		var ge *geocodeError
		if asGeocodeError(err, &ge) && ge.StatusCode > 0 && ge.StatusCode < 500 {
			logger.Warn("GEOCODE", fmt.Sprintf("%s: not found (HTTP %d)", query, ge.StatusCode))
			return cachedResult{}, nil // terminal not-found, cache the miss
		}
		logger.Warn("GEOCODE", fmt.Sprintf("%s: %v", query, err))
		return cachedResult{}, nil
	}
	return result, nil
}

type geocodeError struct {
	StatusCode int
	Err        error
}

func (e *geocodeError) Error() string { return fmt.Sprintf("geocode: HTTP %d: %v", e.StatusCode, e.Err) }
func (e *geocodeError) Unwrap() error { return e.Err }

func asGeocodeError(err error, target **geocodeError) bool {
	ge, ok := err.(*geocodeError)
	if !ok {
		return false
	}
	*target = ge
	return true
}

type remoteResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (g *Geocoder) doRequest(ctx context.Context, query string) (cachedResult, error) {
	u, err := url.Parse(g.cfg.ServiceURL)
	if err != nil {
		return cachedResult{}, &geocodeError{Err: err}
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cachedResult{}, &geocodeError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return cachedResult{}, &geocodeError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cachedResult{}, &geocodeError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var results []remoteResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return cachedResult{}, &geocodeError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(results) == 0 {
		return cachedResult{}, nil
	}

	var lat, lon float64
	fmt.Sscanf(results[0].Lat, "%g", &lat)
	fmt.Sscanf(results[0].Lon, "%g", &lon)
	return cachedResult{lat: lat, lon: lon, hasCoords: true, displayName: results[0].DisplayName}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
