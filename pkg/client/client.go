// Package client provides the HTTP client for the Aircall API as exposed by
// the Bearer proxy gateway.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for gateway requests.
var (
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircall_requests_total",
		Help: "Total gateway requests by resource and status",
	}, []string{"resource", "status"})

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aircall_request_duration_seconds",
		Help:    "Gateway request duration in seconds by resource",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"resource"})

	gatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircall_errors_total",
		Help: "Total gateway errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the Bearer proxy route for the Aircall OAuth integration.
	DefaultBaseURL = "https://proxy.bearer.sh/aircall_oauth"

	// DefaultPageSize is the per_page value sent on every list request.
	DefaultPageSize = 50

	// HeaderAuthID carries the per-tenant integration identifier.
	HeaderAuthID = "Bearer-Auth-Id"
)

// ErrorClass represents a classification of gateway errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures and unreadable bodies.
	ErrorClassNetwork ErrorClass = "network"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the gateway route every resource path is appended to.
	BaseURL string

	// APIKey is sent verbatim in the Authorization header.
	APIKey string

	// AuthID identifies the tenant's integration on the gateway.
	AuthID string

	// PageSize is sent as per_page on list requests.
	PageSize int

	// RequestTimeout bounds a single request. Zero means no timeout.
	RequestTimeout time.Duration

	// MaxIdleConnsPerHost sizes the connection pool shared by concurrent walks.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the configuration used against the public gateway.
func DefaultConfig(apiKey, authID string) Config {
	return Config{
		BaseURL:             DefaultBaseURL,
		APIKey:              apiKey,
		AuthID:              authID,
		PageSize:            DefaultPageSize,
		MaxIdleConnsPerHost: 4,
	}
}

// Client fetches raw pages from the gateway. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.AuthID == "" {
		return nil, ErrMissingAuthID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 4
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		config: cfg,
		logger: log.With().Str("component", "aircall-client").Logger(),
	}, nil
}

// Endpoint builds the first-page URL of a list resource, e.g. calls or teams.
// Extra query values are added after per_page.
func (c *Client) Endpoint(resource string, query url.Values) string {
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("per_page", strconv.Itoa(c.config.PageSize))

	return strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.Trim(resource, "/") + "?" + q.Encode()
}

// FetchPage performs one GET against endpoint and returns the response body.
// Any non-2xx status is returned as a *GatewayError.
func (c *Client) FetchPage(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resource := resourceLabel(req.URL)
	start := time.Now()
	defer func() {
		gatewayRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	}()

	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set(HeaderAuthID, c.config.AuthID)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Msg("Fetching page")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		gatewayErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		gatewayRequestsTotal.WithLabelValues(resource, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Gateway request failed")
		return nil, &GatewayError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	gatewayRequestsTotal.WithLabelValues(resource, status).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		gatewayErrorsTotal.WithLabelValues(string(class)).Inc()
		// Drain a bounded prefix so the connection can be reused.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Gateway returned error status")

		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    strings.TrimSpace(resp.Status + " " + string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		gatewayErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	return body, nil
}

// classifyStatus returns the error class of an HTTP status, or "" on success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// resourceLabel keeps metric cardinality bounded: the last path segment only.
func resourceLabel(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "root"
	}
	return path
}

// Close releases idle pooled connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
