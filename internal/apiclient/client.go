// Package apiclient implements component A: paginated retrieval of Paper
// records from a remote OParl-style list endpoint, with retry and
// exponential backoff. The public entry point, IteratePapers, returns a lazy
// sequence — callers must not assume the number of Papers fits in memory.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ratsarchiv/pipeline/internal/logger"
	"github.com/ratsarchiv/pipeline/internal/model"
	"github.com/ratsarchiv/pipeline/internal/retry"
)

// FetchError is raised (via the Err field of Result) when a page request
// fails terminally. Retryable variants are retried internally and never
// surface; only a final, exhausted failure reaches the caller.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds the settings IteratePapers needs from the configuration
// record (SPEC_FULL.md §6, `api.*`).
type Config struct {
	BaseURL          string
	WindowStart      time.Time
	WindowEnd        time.Time
	HTTPTimeoutSec   int
	RetryAttempts    int
	RetryBackoffBase float64
	PageLimit        int // 0 = unlimited
}

// Client is a retrying HTTP client for the list endpoint, modeled on the
// teacher's esi.Client request/retry shape.
type Client struct {
	http *http.Client
	cfg  Config
}

// New constructs a Client bound to cfg.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		cfg:  cfg,
	}
}

// page is the list-with-pagination envelope returned by the list endpoint.
type page struct {
	Data  []paperEnvelope `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type fileEnvelope struct {
	AccessURL string `json:"accessUrl"`
	MimeType  string `json:"mimetype"`
	Size      int64  `json:"size"`
	Filename  string `json:"fileName"`
}

type paperEnvelope struct {
	ID           string         `json:"id"`
	Title        string         `json:"name"`
	Reference    string         `json:"reference"`
	Date         string         `json:"date"`
	PaperType    string         `json:"paperType"`
	MainFile     *fileEnvelope  `json:"mainFile"`
	AuxiliaryFile []fileEnvelope `json:"auxiliaryFile"`
}

func (e paperEnvelope) toPaper() model.Paper {
	var files []model.FileDescriptor
	mainIdx := -1
	if e.MainFile != nil {
		files = append(files, model.FileDescriptor{
			AccessURL: e.MainFile.AccessURL,
			MimeType:  e.MainFile.MimeType,
			SizeBytes: e.MainFile.Size,
			Filename:  e.MainFile.Filename,
		})
		mainIdx = 0
	}
	for _, f := range e.AuxiliaryFile {
		files = append(files, model.FileDescriptor{
			AccessURL: f.AccessURL,
			MimeType:  f.MimeType,
			SizeBytes: f.Size,
			Filename:  f.Filename,
		})
	}
	date, _ := time.Parse(time.RFC3339, e.Date)
	if date.IsZero() {
		date, _ = time.Parse("2006-01-02", e.Date)
	}
	return model.Paper{
		ID:            e.ID,
		Title:         e.Title,
		Reference:     e.Reference,
		Date:          date,
		DocumentType:  e.PaperType,
		Files:         files,
		MainFileIndex: mainIdx,
	}
}

// Result is one element of the lazy sequence returned by IteratePapers: a
// Paper, or a terminal error (after which the channel is closed and no more
// Papers follow).
type Result struct {
	Paper model.Paper
	Err   error
}

// IteratePapers issues paginated GET requests against cfg.BaseURL for
// Papers modified within [windowStart, windowEnd], honoring pageLimit (0 =
// unlimited pages), and streams results on the returned channel without
// materializing the full sequence in memory. The channel is closed when the
// sequence is exhausted or a terminal FetchError occurs (sent as the final
// Result).
func (c *Client) IteratePapers(ctx context.Context) <-chan Result {
	out := make(chan Result, 16)
	go func() {
		defer close(out)
		c.run(ctx, out)
	}()
	return out
}

func (c *Client) run(ctx context.Context, out chan<- Result) {
	next := c.firstPageURL()
	pages := 0
	for next != "" {
		if c.cfg.PageLimit > 0 && pages >= c.cfg.PageLimit {
			return
		}
		p, err := c.fetchPage(ctx, next)
		if err != nil {
			select {
			case out <- Result{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		pages++
		for _, env := range p.Data {
			select {
			case out <- Result{Paper: env.toPaper()}:
			case <-ctx.Done():
				return
			}
		}
		next = p.Links.Next
	}
}

func (c *Client) firstPageURL() string {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return c.cfg.BaseURL
	}
	q := u.Query()
	if !c.cfg.WindowStart.IsZero() {
		q.Set("modified_since", c.cfg.WindowStart.Format(time.RFC3339))
	}
	if !c.cfg.WindowEnd.IsZero() {
		q.Set("modified_until", c.cfg.WindowEnd.Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isRetryableStatus(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500
}

// fetchPage GETs a single page, retrying on timeouts/connection errors/5xx/429
// with exponential backoff, per spec.md §4.A.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	policy := retry.Policy{
		MaxAttempts: maxInt(1, c.cfg.RetryAttempts+1),
		BaseDelay:   time.Duration(c.cfg.RetryBackoffBase * float64(time.Second)),
		MaxDelay:    60 * time.Second,
	}
	var lastStatus int
	policy.RetryablePredicate = func(err error) bool {
		var fe *FetchError
		if asFetchError(err, &fe) {
			if fe.StatusCode == 0 {
				return true // network-level error: timeout/connection refused
			}
			return isRetryableStatus(fe.StatusCode)
		}
		return false
	}

	var result *page
	err := retry.Do(ctx, policy, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return &FetchError{URL: pageURL, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warn("API", fmt.Sprintf("request failed (attempt %d): %v", attempt+1, err))
			return &FetchError{URL: pageURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			lastStatus = resp.StatusCode
			return &FetchError{URL: pageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
		}

		var p page
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return &FetchError{URL: pageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
		}
		result = &p
		return nil
	})
	if err != nil {
		logger.Error("API", fmt.Sprintf("page fetch exhausted retries (last status %d): %v", lastStatus, err))
		return nil, err
	}
	return result, nil
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if !ok {
		return false
	}
	*target = fe
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
