// Package connector runs the gateway walks of a dataset and turns their pages
// into the dataset's table.
//
// calls and users need two independent streams, the teams list and the
// dataset itself. Both walks run concurrently and are joined before any
// transform happens; if either fails the acquisition fails. tags is a single
// walk. Retrieve is the blocking entry point: it returns once every walk has
// finished and the table is assembled.
package connector

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/assemble"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/logging"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"github.com/Sternrassler/aircall-connector/pkg/table"
	"github.com/Sternrassler/aircall-connector/pkg/transform"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for connector runs.
var (
	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircall_acquisitions_total",
		Help: "Dataset acquisitions by dataset and outcome",
	}, []string{"dataset", "status"})

	acquisitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aircall_acquisition_duration_seconds",
		Help:    "Time from first request to joined walks, by dataset",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"dataset"})

	rowsAssembled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aircall_rows_assembled",
		Help: "Rows in the most recently assembled table, by dataset",
	}, []string{"dataset"})
)

// tagsStartPass reproduces the tags stream's pass counter starting at 1, so
// tags walks fetch at most max(1, limit-1) pages.
const tagsStartPass = 1

// Gateway is what the connector needs from the gateway client.
type Gateway interface {
	pagination.PageFetcher

	// Endpoint builds the first-page URL of a list resource.
	Endpoint(resource string, query url.Values) string
}

// Config holds connector configuration.
type Config struct {
	// WalkTimeout bounds each walk. Zero disables it.
	WalkTimeout time.Duration
}

// Connector acquires and assembles datasets. It is safe for concurrent use.
type Connector struct {
	gateway Gateway
	walker  *pagination.Walker
	logger  zerolog.Logger
}

// New creates a connector over a gateway client.
func New(gateway Gateway, cfg Config) *Connector {
	return &Connector{
		gateway: gateway,
		walker:  pagination.NewWalkerWithConfig(gateway, pagination.Config{WalkTimeout: cfg.WalkTimeout}),
		logger:  logging.NewLogger("connector"),
	}
}

// Acquisition holds the raw pages of one acquisition, in fetch order.
type Acquisition struct {
	Dataset dataset.Dataset

	// TeamPages is nil for tags.
	TeamPages []pagination.Page

	// Pages are the dataset walk's pages.
	Pages []pagination.Page
}

// Acquire runs the walks of d, bounded by limit pages each, and blocks until
// all of them finished. query is added to the dataset endpoint only.
func (c *Connector) Acquire(ctx context.Context, d dataset.Dataset, limit int, query url.Values) (*Acquisition, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownDataset, string(d))
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w (got %d)", pagination.ErrInvalidLimit, limit)
	}

	start := time.Now()
	acq, err := c.acquire(ctx, d, limit, query)

	acquisitionDuration.WithLabelValues(d.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		acquisitionsTotal.WithLabelValues(d.String(), "error").Inc()
		return nil, err
	}
	acquisitionsTotal.WithLabelValues(d.String(), "ok").Inc()

	c.logger.Info().
		Str("dataset", d.String()).
		Int("limit", limit).
		Int("team_pages", len(acq.TeamPages)).
		Int("pages", len(acq.Pages)).
		Dur("duration", time.Since(start)).
		Msg("Acquisition complete")

	return acq, nil
}

func (c *Connector) acquire(ctx context.Context, d dataset.Dataset, limit int, query url.Values) (*Acquisition, error) {
	acq := &Acquisition{Dataset: d}
	datasetURL := c.gateway.Endpoint(d.Resource(), query)

	if !d.NeedsTeams() {
		pages, err := c.walkStream(ctx, d.String(), datasetURL, limit, tagsStartPass)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", d, err)
		}
		acq.Pages = pages
		return acq, nil
	}

	teamsURL := c.gateway.Endpoint(dataset.TeamsResource, nil)

	// Each goroutine owns one field; Wait is the only synchronization needed.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := c.walkStream(gctx, dataset.TeamsResource, teamsURL, limit, 0)
		if err != nil {
			return err
		}
		acq.TeamPages = pages
		return nil
	})
	g.Go(func() error {
		pages, err := c.walkStream(gctx, d.String(), datasetURL, limit, 0)
		if err != nil {
			return err
		}
		acq.Pages = pages
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", d, err)
	}
	return acq, nil
}

// walkStream runs one named walk and logs its outcome under the stream field.
func (c *Connector) walkStream(ctx context.Context, stream, endpoint string, limit, startPass int) ([]pagination.Page, error) {
	pages, err := c.walker.Walk(ctx, endpoint, limit, startPass)
	if err != nil {
		c.logger.Warn().Err(err).Str("stream", stream).Msg("Stream failed")
		return nil, fmt.Errorf("%s stream: %w", stream, err)
	}

	c.logger.Debug().
		Str("stream", stream).
		Int("pages", len(pages)).
		Msg("Stream complete")
	return pages, nil
}

// Result is the outcome of one Retrieve call.
type Result struct {
	RunID     string
	Dataset   dataset.Dataset
	Table     *table.Table
	TeamPages int
	Pages     int
	Duration  time.Duration
}

// Retrieve validates ds, acquires its pages, reshapes them and assembles the
// dataset table. It blocks until the whole pipeline finished.
func (c *Connector) Retrieve(ctx context.Context, ds DataSource) (*Result, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	query, err := ds.RenderQuery()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := logging.WithRun(c.logger, runID)
	start := time.Now()

	acq, err := c.Acquire(ctx, ds.Dataset, ds.PageLimit(), query)
	if err != nil {
		logger.Error().Err(err).Str("dataset", ds.Dataset.String()).Msg("Acquisition failed")
		return nil, err
	}

	tbl, err := Reshape(acq)
	if err != nil {
		logger.Error().Err(err).Str("dataset", ds.Dataset.String()).Msg("Transform failed")
		return nil, err
	}

	rowsAssembled.WithLabelValues(ds.Dataset.String()).Set(float64(tbl.Len()))
	logger.Info().
		Str("dataset", ds.Dataset.String()).
		Int("rows", tbl.Len()).
		Dur("duration", time.Since(start)).
		Msg("Dataset assembled")

	return &Result{
		RunID:     runID,
		Dataset:   ds.Dataset,
		Table:     tbl,
		TeamPages: len(acq.TeamPages),
		Pages:     len(acq.Pages),
		Duration:  time.Since(start),
	}, nil
}

// Reshape applies the teams and dataset reshapes to an acquisition and
// assembles the result table.
func Reshape(acq *Acquisition) (*table.Table, error) {
	spec, err := transform.For(acq.Dataset)
	if err != nil {
		return nil, err
	}

	records, err := spec(acq.Pages)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", acq.Dataset, err)
	}

	var teams []table.Record
	if acq.Dataset.NeedsTeams() {
		teams, err = transform.Teams(acq.TeamPages)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", dataset.TeamsResource, err)
		}
	}

	return assemble.Build(acq.Dataset, teams, records)
}
