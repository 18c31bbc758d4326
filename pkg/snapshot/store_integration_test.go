//go:build integration

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/aircall-connector/internal/testutil"
	"github.com/Sternrassler/aircall-connector/pkg/client"
	"github.com/Sternrassler/aircall-connector/pkg/connector"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		redisClient.Close()
		redisContainer.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestStore_Integration_PublishRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	gw := testutil.NewMockGateway()
	defer gw.Close()

	gw.SetPages(dataset.TeamsResource, map[string]any{"teams": []any{
		map[string]any{"name": "Sales", "users": []any{
			map[string]any{"id": 1, "name": "Ada", "created_at": "2020-03-01T10:00:00.000Z"},
		}},
	}})
	gw.SetPages("calls", map[string]any{"calls": []any{
		map[string]any{
			"id": 100, "direction": "inbound", "duration": 42,
			"answered_at": 1609459100, "ended_at": 1609459200,
			"raw_digits": "+1 555 0100", "user": map[string]any{"id": 1, "name": "Ada"},
			"tags": []any{},
		},
	}})

	cfg := client.DefaultConfig("test-key", "auth-123")
	cfg.BaseURL = gw.URL()
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	res, err := connector.New(c, connector.Config{}).Retrieve(ctx, connector.DataSource{Dataset: dataset.Calls})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	store := NewStore(redisClient, time.Minute)
	if err := store.Save(ctx, FromResult(res)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Latest(ctx, dataset.Calls)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got.RunID != res.RunID {
		t.Errorf("RunID = %q, want %q", got.RunID, res.RunID)
	}

	day, err := got.Table.Column("day")
	if err != nil {
		t.Fatalf("Column(day) error = %v", err)
	}
	if len(day) != 1 || day[0] != "2021-01-01" {
		t.Errorf("day = %v, want [2021-01-01]", day)
	}

	// Published snapshots never short-circuit a run.
	before := gw.RequestCount("calls")
	if _, err := connector.New(c, connector.Config{}).Retrieve(ctx, connector.DataSource{Dataset: dataset.Calls}); err != nil {
		t.Fatalf("second Retrieve() error = %v", err)
	}
	if gw.RequestCount("calls") != before+1 {
		t.Errorf("second run should fetch again, requests = %d", gw.RequestCount("calls"))
	}

	if h := gw.LastHeaders(); h.Get("Authorization") != "test-key" {
		t.Errorf("Authorization = %q, want test-key", h.Get("Authorization"))
	}
}
