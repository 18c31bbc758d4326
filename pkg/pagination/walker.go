package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination walks.
var (
	walkPages = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aircall_walk_pages",
		Help:    "Pages accumulated per completed walk",
		Buckets: []float64{1, 2, 5, 10, 20, 60},
	})

	walkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aircall_walk_duration_seconds",
		Help:    "Duration of completed and failed walks",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	walkTruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aircall_walk_truncations_total",
		Help: "Walks stopped by the page limit while a next page was still offered",
	})

	walkFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aircall_walk_failures_total",
		Help: "Walks aborted by a transport or decode failure",
	})
)

var (
	// ErrInvalidLimit is returned when a walk is requested with limit < 1.
	ErrInvalidLimit = errors.New("page limit must be >= 1")

	// ErrDecodePage is returned when a page body is not a JSON object.
	ErrDecodePage = errors.New("decode page")
)

// PageFetcher is implemented by the gateway client: one GET, raw body back.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string) ([]byte, error)
}

// Page is one gateway response: the raw JSON body and its continuation cursor.
type Page struct {
	// Body is the undecoded response payload.
	Body json.RawMessage

	// NextLink is meta.next_page_link, empty on the last page.
	NextLink string
}

// HasNext reports whether the gateway offered a following page.
func (p Page) HasNext() bool {
	return p.NextLink != ""
}

// envelope is the part of a page the walker needs.
type envelope struct {
	Meta *struct {
		NextPageLink *string `json:"next_page_link"`
	} `json:"meta"`
}

// Config holds walker configuration.
type Config struct {
	// WalkTimeout bounds one whole walk. Zero disables it, which matches
	// the gateway connector's historical behavior.
	WalkTimeout time.Duration
}

// Walker performs bounded pagination walks.
type Walker struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewWalker creates a walker with no walk timeout.
func NewWalker(fetcher PageFetcher) *Walker {
	return NewWalkerWithConfig(fetcher, Config{})
}

// NewWalkerWithConfig creates a walker with explicit configuration.
func NewWalkerWithConfig(fetcher PageFetcher, config Config) *Walker {
	if config.WalkTimeout < 0 {
		config.WalkTimeout = 0
	}
	return &Walker{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// Walk fetches endpoint and follows next-page cursors in order.
//
// startPass is the initial value of the pass counter; it is incremented once
// per fetched page and the walk continues only while a cursor is present and
// the counter is below limit. With startPass 0 a walk returns at most limit
// pages; with startPass 1 it returns at most max(1, limit-1).
func (w *Walker) Walk(ctx context.Context, endpoint string, limit, startPass int) ([]Page, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidLimit, limit)
	}

	if w.config.WalkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.WalkTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		walkDuration.Observe(time.Since(start).Seconds())
	}()

	var pages []Page
	next := endpoint
	pass := startPass

	for {
		page, err := w.fetch(ctx, next)
		if err != nil {
			walkFailuresTotal.Inc()
			w.logger.Error().
				Err(err).
				Str("endpoint", next).
				Int("pages", len(pages)).
				Msg("Walk aborted")
			return nil, fmt.Errorf("walk %s: page %d: %w", endpoint, len(pages)+1, err)
		}

		pages = append(pages, page)
		pass++

		if !page.HasNext() {
			break
		}
		if pass >= limit {
			walkTruncationsTotal.Inc()
			w.logger.Debug().
				Str("endpoint", endpoint).
				Int("limit", limit).
				Int("pages", len(pages)).
				Msg("Walk truncated by page limit")
			break
		}

		next = page.NextLink
	}

	walkPages.Observe(float64(len(pages)))
	w.logger.Debug().
		Str("endpoint", endpoint).
		Int("pages", len(pages)).
		Dur("duration", time.Since(start)).
		Msg("Walk complete")

	return pages, nil
}

// fetch retrieves one page and extracts its cursor.
func (w *Walker) fetch(ctx context.Context, endpoint string) (Page, error) {
	body, err := w.fetcher.FetchPage(ctx, endpoint)
	if err != nil {
		return Page{}, err
	}

	cursor, err := parseCursor(body)
	if err != nil {
		return Page{}, err
	}

	return Page{Body: body, NextLink: cursor}, nil
}

// parseCursor reads meta.next_page_link. A missing or null meta, or a null
// link, means there is no next page.
func parseCursor(body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodePage, err)
	}
	if env.Meta == nil || env.Meta.NextPageLink == nil {
		return "", nil
	}
	return *env.Meta.NextPageLink, nil
}
