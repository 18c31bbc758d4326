package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/client"
	"github.com/Sternrassler/aircall-connector/pkg/connector"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/metrics"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"github.com/Sternrassler/aircall-connector/pkg/snapshot"
	"github.com/Sternrassler/aircall-connector/pkg/transform"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// reservedParams are dataset request parameters that are not gateway filters.
var reservedParams = map[string]bool{"limit": true, "format": true, "publish": true}

func newServeCmd(opts *options) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve datasets and snapshots over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, closeClient, err := newConnector(opts)
			if err != nil {
				return err
			}
			defer closeClient()

			var store *snapshot.Store
			redisClient := newRedis(opts)
			if redisClient != nil {
				defer redisClient.Close()
				if err := redisClient.Ping(cmd.Context()).Err(); err != nil {
					return fmt.Errorf("connect to redis at %s: %w", opts.redisURL, err)
				}
				log.Info().Str("addr", opts.redisURL).Msg("Connected to Redis")
				store = snapshot.NewStore(redisClient, opts.snapshotTTL)
			}

			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           newMux(conn, redisClient, store),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return runServer(cmd.Context(), srv)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", getEnv("PORT", "8080"), "HTTP listen port")
	return cmd
}

func newMux(conn *connector.Connector, redisClient *redis.Client, store *snapshot.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /datasets/{dataset}", datasetHandler(conn, store))
	mux.HandleFunc("GET /snapshots/{dataset}", snapshotHandler(store))
	return mux
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting connector server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down connector server")
	return srv.Shutdown(shutdownCtx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when Redis, if configured, answers a ping.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// datasetHandler runs one connector invocation per request. Query parameters
// other than limit, format and publish are passed to the dataset endpoint.
// Every parameter may appear at most once.
func datasetHandler(conn *connector.Connector, store *snapshot.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		for k, vs := range q {
			if len(vs) > 1 {
				http.Error(w, fmt.Sprintf("query parameter %q repeated", k), http.StatusBadRequest)
				return
			}
		}

		ds := connector.DataSource{Dataset: dataset.Dataset(r.PathValue("dataset"))}
		if q.Has("limit") {
			l := q.Get("limit")
			n, err := strconv.Atoi(l)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid limit %q", l), http.StatusBadRequest)
				return
			}
			if n < 1 {
				http.Error(w, fmt.Sprintf("%v (got %d)", pagination.ErrInvalidLimit, n), http.StatusBadRequest)
				return
			}
			ds.Limit = connector.Limit(n)
		}
		for k := range q {
			if reservedParams[k] {
				continue
			}
			if ds.Query == nil {
				ds.Query = map[string]string{}
			}
			ds.Query[k] = q.Get(k)
		}

		format := q.Get("format")
		if format == "" {
			format = "json"
		}
		if format != "json" && format != "csv" {
			http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
			return
		}

		publish, _ := strconv.ParseBool(q.Get("publish"))
		if publish && store == nil {
			http.Error(w, "snapshots are not configured", http.StatusConflict)
			return
		}

		res, err := conn.Retrieve(r.Context(), ds)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		if publish {
			if err := store.Save(r.Context(), snapshot.FromResult(res)); err != nil {
				log.Error().Err(err).Str("run_id", res.RunID).Msg("Snapshot publish failed")
				http.Error(w, "publish snapshot failed", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("X-Run-Id", res.RunID)
		if format == "csv" {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		if err := writeTable(w, format, res.Table); err != nil {
			log.Error().Err(err).Str("run_id", res.RunID).Msg("Failed to write response")
		}
	}
}

func snapshotHandler(store *snapshot.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "snapshots are not configured", http.StatusNotFound)
			return
		}

		d, err := dataset.Parse(r.PathValue("dataset"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		key := snapshot.Key{Dataset: d, RunID: r.URL.Query().Get("run_id")}
		entry, err := store.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entry); err != nil {
			log.Error().Err(err).Msg("Failed to write snapshot")
		}
	}
}

// statusFor maps a connector error to an HTTP status.
func statusFor(err error) int {
	var gwErr *client.GatewayError
	switch {
	case errors.Is(err, dataset.ErrUnknownDataset),
		errors.Is(err, pagination.ErrInvalidLimit),
		errors.Is(err, connector.ErrUnknownParameter):
		return http.StatusBadRequest
	case errors.As(err, &gwErr),
		errors.Is(err, transform.ErrMalformedPage),
		errors.Is(err, pagination.ErrDecodePage):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
