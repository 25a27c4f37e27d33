package bulk

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/clients"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/errors"
)

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Bulk.PollInterval = time.Millisecond
	cfg.Bulk.ConflictRetryInterval = time.Millisecond
	cfg.Bulk.SubmitTimeout = 250 * time.Millisecond
	return cfg
}

func conflictErrors() []clients.UserError {
	return []clients.UserError{{
		Field:   []string{"query"},
		Message: "A bulk query operation for this app and shop is already in progress",
		Code:    "OPERATION_IN_PROGRESS",
	}}
}

func TestSubmitAndWaitRetriesThroughConflict(t *testing.T) {
	attempts := 0
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			attempts++
			if attempts < 3 {
				return nil, conflictErrors(), nil
			}
			return &Operation{ID: "gid://shopify/BulkOperation/1", Status: StatusCreated}, nil, nil
		}),
	)

	op, err := c.SubmitAndWait(context.Background(), "query Q { shop { name } }", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "gid://shopify/BulkOperation/1", op.ID)
}

func TestSubmitAndWaitTimesOutOnPersistentConflict(t *testing.T) {
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return nil, conflictErrors(), nil
		}),
	)

	_, err := c.SubmitAndWait(context.Background(), "query Q { shop { name } }", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestSubmitAndWaitFailsFastOnOtherUserErrors(t *testing.T) {
	attempts := 0
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			attempts++
			return nil, []clients.UserError{{
				Field:   []string{"query"},
				Message: "Bulk query is not valid GraphQL",
				Code:    "INVALID",
			}}, nil
		}),
	)

	_, err := c.SubmitAndWait(context.Background(), "query Q { shop { name } }", nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUserError))
	assert.Contains(t, err.Error(), "query: Bulk query is not valid GraphQL")
}

func TestSubmitAndWaitInjectsVariables(t *testing.T) {
	var submitted string
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			submitted = query
			return &Operation{ID: "op", Status: StatusCreated}, nil, nil
		}),
	)

	_, err := c.SubmitAndWait(context.Background(),
		"query Q($status: String) { orders(query: $status) { id } }",
		map[string]interface{}{"status": "open"},
	)
	require.NoError(t, err)
	assert.Equal(t, `query Q { orders(query: "open") { id } }`, submitted)
}

func TestRunPollsUntilCompleteAndStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(
			`{"__typename":"Product","id":"gid://shopify/Product/1","title":"A"}` + "\n" +
				`{"__typename":"ProductVariant","sku":"A1","__parentId":"gid://shopify/Product/1"}` + "\n" +
				`{"__typename":"Product","id":"gid://shopify/Product/2","title":"B"}` + "\n"))
	}))
	defer server.Close()

	polls := 0
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return &Operation{ID: "op", Status: StatusCreated, CreatedAt: time.Now()}, nil, nil
		}),
		WithStatusFunc(func(ctx context.Context, id string) (*Operation, error) {
			polls++
			if polls < 3 {
				return &Operation{ID: id, Status: StatusRunning, ObjectCount: "5", CreatedAt: time.Now()}, nil
			}
			return &Operation{
				ID: id, Status: StatusCompleted, ObjectCount: "5",
				URL: server.URL, CreatedAt: time.Now(),
			}, nil
		}),
	)

	op, stream, err := c.Run(context.Background(), "query Products { products { id } }", nil, productRegistry())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, 3, polls)

	records := drain(t, stream)
	require.Len(t, records, 2)
	first := records[0].(map[string]interface{})
	edges := first["variants"].(map[string]interface{})["edges"].([]interface{})
	assert.Len(t, edges, 1)
}

func TestRunDecompressesGzipResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"__typename":"Product","id":"gid://shopify/Product/1","title":"Zipped"}` + "\n"))
		gz.Close()
	}))
	defer server.Close()

	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return &Operation{
				ID: "op", Status: StatusCompleted, URL: server.URL, CreatedAt: time.Now(),
			}, nil, nil
		}),
		WithDownloadClient(&http.Client{Transport: &http.Transport{DisableCompression: true}}),
	)

	_, stream, err := c.Run(context.Background(), "query Products { products { id } }", nil, productRegistry())
	require.NoError(t, err)

	records := drain(t, stream)
	require.Len(t, records, 1)
	assert.Equal(t, "Zipped", records[0].(map[string]interface{})["title"])
}

func TestRunReturnsEmptyStreamForFailedOperation(t *testing.T) {
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return &Operation{ID: "op", Status: StatusCreated, CreatedAt: time.Now()}, nil, nil
		}),
		WithStatusFunc(func(ctx context.Context, id string) (*Operation, error) {
			return &Operation{
				ID: id, Status: StatusFailed, ErrorCode: "ACCESS_DENIED", CreatedAt: time.Now(),
			}, nil
		}),
	)

	op, stream, err := c.Run(context.Background(), "query Products { products { id } }", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, op.Status)
	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())
}

func TestRunReturnsEmptyStreamWhenCompletedWithoutURL(t *testing.T) {
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return &Operation{
				ID: "op", Status: StatusCompleted, ObjectCount: "0", CreatedAt: time.Now(),
			}, nil, nil
		}),
	)

	op, stream, err := c.Run(context.Background(), "query Products { products { id } }", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.False(t, stream.Next())
}

func TestRunCancellationStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(nil, testConfig(), zap.NewNop(),
		WithSubmitFunc(func(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
			return &Operation{ID: "op", Status: StatusCreated, CreatedAt: time.Now()}, nil, nil
		}),
		WithStatusFunc(func(ctx context.Context, id string) (*Operation, error) {
			cancel()
			return &Operation{ID: id, Status: StatusRunning, CreatedAt: time.Now()}, nil
		}),
	)

	_, _, err := c.Run(ctx, "query Products { products { id } }", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}
