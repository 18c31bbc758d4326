package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/aircall-connector/pkg/client"
	"github.com/Sternrassler/aircall-connector/pkg/connector"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/logging"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"github.com/Sternrassler/aircall-connector/pkg/snapshot"
	"github.com/Sternrassler/aircall-connector/pkg/table"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// options are the process settings shared by every command.
type options struct {
	apiKey      string
	authID      string
	baseURL     string
	redisURL    string
	logLevel    string
	walkTimeout time.Duration
	snapshotTTL time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "aircall-connector",
		Short:         "Extract Aircall calls, tags and users as tables",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			cfg.Level = logging.LogLevel(opts.logLevel)
			logging.Setup(cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiKey, "api-key", getEnv("AIRCALL_API_KEY", ""), "Aircall API key sent in the Authorization header")
	flags.StringVar(&opts.authID, "auth-id", getEnv("AIRCALL_AUTH_ID", ""), "Gateway integration id sent as Bearer-Auth-Id")
	flags.StringVar(&opts.baseURL, "base-url", getEnv("AIRCALL_BASE_URL", client.DefaultBaseURL), "Gateway base route")
	flags.StringVar(&opts.redisURL, "redis", getEnv("REDIS_URL", ""), "Redis address for snapshots (empty disables them)")
	flags.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flags.DurationVar(&opts.walkTimeout, "walk-timeout", 0, "Upper bound for one pagination walk (0 disables it)")
	flags.DurationVar(&opts.snapshotTTL, "snapshot-ttl", snapshot.DefaultTTL, "Lifetime of published snapshots")

	root.AddCommand(newFetchCmd(opts), newServeCmd(opts))
	return root
}

func newFetchCmd(opts *options) *cobra.Command {
	var (
		ds         connector.DataSource
		name       string
		limit      int
		configFile string
		format     string
		output     string
		publish    bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one dataset and write it as CSV or JSON",
		Long: `Fetch walks the gateway for one dataset, assembles its table and writes it
to stdout or a file. A YAML data source file may set the dataset, the page
limit, extra query filters and their parameters; flags override it.

Example:
  aircall-connector fetch --dataset calls --limit 5 --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				loaded, err := connector.LoadDataSource(configFile)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("dataset") {
					name = string(loaded.Dataset)
				}
				ds.Limit = loaded.Limit
				ds.Query = loaded.Query
				ds.Parameters = loaded.Parameters
			}
			if cmd.Flags().Changed("limit") {
				if limit < 1 {
					return fmt.Errorf("%w (got --limit %d)", pagination.ErrInvalidLimit, limit)
				}
				ds.Limit = connector.Limit(limit)
			}
			ds.Dataset = dataset.Dataset(name)

			conn, closeClient, err := newConnector(opts)
			if err != nil {
				return err
			}
			defer closeClient()

			res, err := conn.Retrieve(cmd.Context(), ds)
			if err != nil {
				return err
			}

			if publish {
				if err := publishSnapshot(cmd.Context(), opts, res); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			return writeTable(out, format, res.Table)
		},
	}

	cmd.Flags().StringVarP(&name, "dataset", "d", string(dataset.Default), "Dataset to fetch (calls, tags, users)")
	cmd.Flags().IntVarP(&limit, "limit", "l", connector.DefaultLimit, "Maximum pages per walk")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML data source file")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format (csv, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish the table as a Redis snapshot")

	return cmd
}

// newConnector builds the gateway client and the connector over it.
func newConnector(opts *options) (*connector.Connector, func(), error) {
	cfg := client.DefaultConfig(opts.apiKey, opts.authID)
	cfg.BaseURL = opts.baseURL

	c, err := client.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create gateway client: %w", err)
	}

	conn := connector.New(c, connector.Config{WalkTimeout: opts.walkTimeout})
	return conn, func() { c.Close() }, nil
}

// newRedis returns nil when no Redis address is configured.
func newRedis(opts *options) *redis.Client {
	if opts.redisURL == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: opts.redisURL})
}

func publishSnapshot(ctx context.Context, opts *options, res *connector.Result) error {
	redisClient := newRedis(opts)
	if redisClient == nil {
		return errors.New("--publish needs a Redis address (--redis or REDIS_URL)")
	}
	defer redisClient.Close()

	store := snapshot.NewStore(redisClient, opts.snapshotTTL)
	if err := store.Save(ctx, snapshot.FromResult(res)); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	log.Info().
		Str("run_id", res.RunID).
		Str("dataset", res.Dataset.String()).
		Msg("Snapshot published")
	return nil
}

func writeTable(w io.Writer, format string, t *table.Table) error {
	switch strings.ToLower(format) {
	case "csv":
		return table.WriteCSV(w, t)
	case "json":
		return table.WriteJSON(w, t)
	default:
		return fmt.Errorf("unknown format %q (want csv or json)", format)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
