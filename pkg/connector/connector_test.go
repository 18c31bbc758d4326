package connector

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/aircall-connector/internal/testutil"
	"github.com/Sternrassler/aircall-connector/pkg/client"
	"github.com/Sternrassler/aircall-connector/pkg/dataset"
	"github.com/Sternrassler/aircall-connector/pkg/pagination"
	"github.com/Sternrassler/aircall-connector/pkg/transform"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, gw *testutil.MockGateway) *Connector {
	t.Helper()

	cfg := client.DefaultConfig("test-key", "auth-123")
	cfg.BaseURL = gw.URL()
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return New(c, Config{})
}

func member(id int, name, createdAt string) map[string]any {
	return map[string]any{"id": id, "name": name, "created_at": createdAt}
}

func seedTeams(gw *testutil.MockGateway) {
	gw.SetPages(dataset.TeamsResource,
		map[string]any{"teams": []any{
			map[string]any{"name": "Sales", "users": []any{member(1, "Ada", "2020-03-01T10:00:00.000Z")}},
		}},
		map[string]any{"teams": []any{
			map[string]any{"name": "Ops", "users": []any{member(3, "Cy", "2020-05-01T10:00:00.000Z")}},
		}},
	)
}

func TestRetrieve_Users(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	seedTeams(gw)
	gw.SetPages("users", map[string]any{"users": []any{
		member(1, "Ada (users)", "2021-01-01T00:00:00.000Z"),
		member(2, "Bob", "2021-02-02T08:30:00.000Z"),
	}})

	res, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{})
	require.NoError(t, err)

	assert.Equal(t, dataset.Users, res.Dataset)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.TeamPages)
	assert.Equal(t, 1, res.Pages)

	assert.Equal(t, dataset.Users.Columns(), res.Table.Columns)
	assert.Equal(t, [][]any{
		{"Sales", int64(1), "Ada", "2020-03-01"},
		{"Ops", int64(3), "Cy", "2020-05-01"},
		{nil, int64(2), "Bob", "2021-02-02"},
	}, res.Table.Rows)
}

func TestRetrieve_Calls(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	seedTeams(gw)
	gw.SetPages("calls", map[string]any{"calls": []any{
		map[string]any{
			"id": 100, "direction": "inbound", "duration": 42,
			"answered_at": 1609459100, "ended_at": 1609459200,
			"raw_digits": "+33 1 23 45 67 89",
			"user":       map[string]any{"id": 3, "name": "Cy"},
			"tags":       []any{map[string]any{"id": 5, "name": "VIP"}},
		},
		map[string]any{
			"id": 101, "direction": "outbound", "duration": 0,
			"answered_at": nil, "ended_at": nil,
			"raw_digits": "anonymous", "user": nil, "tags": []any{},
		},
	}})

	res, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{Dataset: dataset.Calls, Limit: Limit(5)})
	require.NoError(t, err)
	require.Equal(t, 2, res.Table.Len())

	rows := res.Table.Records()
	assert.Equal(t, int64(100), rows[0]["id"])
	assert.Equal(t, "Ops", rows[0]["team"])
	assert.Equal(t, "Cy", rows[0]["user_name"])
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), rows[0]["ended_at"])
	assert.Equal(t, "2021-01-01", rows[0]["day"])
	assert.Equal(t, []map[string]any{{"name": "VIP"}}, rows[0]["tags"])

	assert.Equal(t, int64(101), rows[1]["id"])
	assert.Nil(t, rows[1]["team"])
	assert.Nil(t, rows[1]["user_id"])
	assert.Nil(t, rows[1]["day"])
}

func TestRetrieve_Tags(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	gw.SetPages("tags",
		map[string]any{"tags": []any{map[string]any{"id": 1, "name": "VIP", "color": "#f00", "description": "Important"}}},
		map[string]any{"tags": []any{map[string]any{"id": 2, "name": "Lead", "color": "#0f0"}}},
	)

	res, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{Dataset: dataset.Tags, Limit: Limit(5)})
	require.NoError(t, err)

	assert.Equal(t, 0, gw.RequestCount(dataset.TeamsResource), "tags must not walk teams")
	assert.Equal(t, 0, res.TeamPages)
	assert.Equal(t, [][]any{
		{int64(1), "VIP", "#f00", "Important"},
		{int64(2), "Lead", "#0f0", nil},
	}, res.Table.Rows)
}

func endlessPage(key string) func(int) map[string]any {
	return func(int) map[string]any {
		return map[string]any{key: []any{}}
	}
}

func TestAcquire_PageLimits(t *testing.T) {
	tests := []struct {
		d         dataset.Dataset
		limit     int
		wantTeams int
		wantPages int
	}{
		{dataset.Users, 1, 1, 1},
		{dataset.Users, 3, 3, 3},
		{dataset.Calls, 4, 4, 4},
		{dataset.Tags, 1, 0, 1},
		{dataset.Tags, 2, 0, 1},
		{dataset.Tags, 4, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			gw := testutil.NewMockGateway()
			defer gw.Close()

			gw.SetEndless(dataset.TeamsResource, endlessPage("teams"))
			gw.SetEndless(tt.d.Resource(), endlessPage(tt.d.Resource()))

			acq, err := newTestConnector(t, gw).Acquire(context.Background(), tt.d, tt.limit, nil)
			require.NoError(t, err)

			assert.Len(t, acq.TeamPages, tt.wantTeams)
			assert.Len(t, acq.Pages, tt.wantPages)
			assert.Equal(t, tt.wantTeams, gw.RequestCount(dataset.TeamsResource))
			assert.Equal(t, tt.wantPages, gw.RequestCount(tt.d.Resource()))
		})
	}
}

func TestAcquire_EitherStreamFailureFails(t *testing.T) {
	for _, failing := range []string{dataset.TeamsResource, "users"} {
		t.Run(failing, func(t *testing.T) {
			gw := testutil.NewMockGateway()
			defer gw.Close()

			seedTeams(gw)
			gw.SetPages("users", map[string]any{"users": []any{}})
			gw.SetResponse(failing, testutil.MockResponse{StatusCode: http.StatusBadGateway, Body: `{"error":"upstream"}`})

			acq, err := newTestConnector(t, gw).Acquire(context.Background(), dataset.Users, 3, nil)
			require.Error(t, err)
			assert.Nil(t, acq)
			assert.Contains(t, err.Error(), failing+" stream")

			var gwErr *client.GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
			assert.Equal(t, client.ErrorClassServer, gwErr.ErrorClass)
		})
	}
}

func TestAcquire_FailureCancelsSiblingWalk(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	gw.SetResponse(dataset.TeamsResource, testutil.MockResponse{StatusCode: http.StatusUnauthorized})
	gw.SetResponse("calls", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"calls":[]}`, Delay: 5 * time.Second})

	start := time.Now()
	_, err := newTestConnector(t, gw).Acquire(context.Background(), dataset.Calls, 2, nil)
	require.Error(t, err)
	assert.True(t, client.IsClientError(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestAcquire_CancelledContext(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	seedTeams(gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestConnector(t, gw).Acquire(ctx, dataset.Users, 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_InvalidInput(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	conn := newTestConnector(t, gw)

	_, err := conn.Acquire(context.Background(), dataset.Dataset("contacts"), 1, nil)
	assert.ErrorIs(t, err, dataset.ErrUnknownDataset)

	_, err = conn.Acquire(context.Background(), dataset.Users, 0, nil)
	assert.Error(t, err)

	assert.Equal(t, 0, gw.RequestCount(dataset.TeamsResource))
}

func TestRetrieve_SendsGatewayHeaders(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	gw.SetPages("tags", map[string]any{"tags": []any{}})

	_, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{Dataset: dataset.Tags})
	require.NoError(t, err)

	h := gw.LastHeaders()
	assert.Equal(t, "test-key", h.Get("Authorization"))
	assert.Equal(t, "auth-123", h.Get(client.HeaderAuthID))
}

func TestRetrieve_EmptyResultsKeepSchema(t *testing.T) {
	for _, d := range dataset.All() {
		t.Run(d.String(), func(t *testing.T) {
			gw := testutil.NewMockGateway()
			defer gw.Close()

			gw.SetPages(dataset.TeamsResource, map[string]any{"teams": []any{}})
			gw.SetPages(d.Resource(), map[string]any{d.Resource(): []any{}})

			res, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{Dataset: d})
			require.NoError(t, err)
			assert.Equal(t, d.Columns(), res.Table.Columns)
			assert.Equal(t, 0, res.Table.Len())
		})
	}
}

func TestRetrieve_MalformedPage(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	seedTeams(gw)
	gw.SetPages("users", map[string]any{"people": []any{}})

	_, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{})
	assert.ErrorIs(t, err, transform.ErrMalformedPage)
}

func TestRetrieve_InvalidSourceMakesNoRequest(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	_, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{
		Dataset: dataset.Calls,
		Query:   map[string]string{"from": "{{ since }}"},
	})
	assert.ErrorIs(t, err, ErrUnknownParameter)
	assert.Equal(t, 0, gw.RequestCount(dataset.TeamsResource))
	assert.Equal(t, 0, gw.RequestCount("calls"))
}

// recordingGateway captures every endpoint built and fetched.
type recordingGateway struct {
	mu      sync.Mutex
	fetched []string
}

func (g *recordingGateway) Endpoint(resource string, query url.Values) string {
	u := "https://gw/" + resource
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (g *recordingGateway) FetchPage(ctx context.Context, endpoint string) ([]byte, error) {
	g.mu.Lock()
	g.fetched = append(g.fetched, endpoint)
	g.mu.Unlock()

	resource := strings.TrimPrefix(endpoint, "https://gw/")
	if i := strings.IndexByte(resource, '?'); i >= 0 {
		resource = resource[:i]
	}
	return []byte(`{"` + resource + `":[]}`), nil
}

func TestRetrieve_QueryOnlyOnDatasetStream(t *testing.T) {
	gw := &recordingGateway{}
	conn := New(gw, Config{})

	_, err := conn.Retrieve(context.Background(), DataSource{
		Dataset:    dataset.Calls,
		Query:      map[string]string{"from": "{{ since }}"},
		Parameters: map[string]any{"since": 1609459200},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"https://gw/teams",
		"https://gw/calls?from=1609459200",
	}, gw.fetched)
}

func TestAcquire_LogsStreamName(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	gw.SetPages("users", map[string]any{"users": []any{}})
	gw.SetResponse(dataset.TeamsResource, testutil.MockResponse{StatusCode: http.StatusBadGateway})

	var buf bytes.Buffer
	conn := newTestConnector(t, gw)
	conn.logger = zerolog.New(&buf).Level(zerolog.DebugLevel)

	_, err := conn.Acquire(context.Background(), dataset.Users, 1, nil)
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"stream":"teams"`)
	assert.Contains(t, buf.String(), `"message":"Stream failed"`)
}

func TestRetrieve_ExplicitZeroLimitMakesNoRequest(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	gw.SetEndless("tags", endlessPage("tags"))

	_, err := newTestConnector(t, gw).Retrieve(context.Background(), DataSource{Dataset: dataset.Tags, Limit: Limit(0)})
	assert.ErrorIs(t, err, pagination.ErrInvalidLimit)
	assert.Equal(t, 0, gw.RequestCount("tags"))
}
