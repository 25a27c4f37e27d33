package bulk

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shopgraph/shopgraph/pkg/clients"
	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/errors"
	"github.com/shopgraph/shopgraph/pkg/logger"
	"github.com/shopgraph/shopgraph/pkg/metrics"
	"github.com/shopgraph/shopgraph/pkg/observability"
)

// operationFields is the selection shared by the submission mutation and the
// status queries.
const operationFields = `
      id
      status
      type
      query
      errorCode
      objectCount
      rootObjectCount
      fileSize
      url
      partialDataUrl
      createdAt
      completedAt`

// RunMutation submits a literal query string as a bulk operation. The
// userErrors selection includes code so submission conflicts are detected
// without matching on message text.
const RunMutation = `mutation bulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation {` + operationFields + `
    }
    userErrors {
      field
      message
      code
    }
  }
}`

// NodeStatusQuery fetches one bulk operation by id.
const NodeStatusQuery = `query bulkOperationStatus($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {` + operationFields + `
    }
  }
}`

// CurrentOperationQuery fetches the shop's most recent query-type bulk
// operation, whoever started it.
const CurrentOperationQuery = `query currentBulkOperation {
  currentBulkOperation {` + operationFields + `
  }
}`

// SubmitFunc submits a literal bulk query and returns the created operation
// or the submission's user errors.
type SubmitFunc func(ctx context.Context, query string) (*Operation, []clients.UserError, error)

// StatusFunc fetches the current state of a bulk operation by id.
type StatusFunc func(ctx context.Context, id string) (*Operation, error)

// Client runs bulk operations end to end: variable injection, submission
// with conflict retries, status polling, and result streaming.
type Client struct {
	gql    *clients.GraphQLClient
	logger *zap.Logger

	download *http.Client
	submit   SubmitFunc
	status   StatusFunc

	pollInterval          time.Duration
	conflictRetryInterval time.Duration
	submitTimeout         time.Duration

	now func() time.Time
}

// ClientOption customizes a bulk Client.
type ClientOption func(*Client)

// WithSubmitFunc overrides how operations are submitted, e.g. to use a
// generated mutation document.
func WithSubmitFunc(fn SubmitFunc) ClientOption {
	return func(c *Client) {
		c.submit = fn
	}
}

// WithStatusFunc overrides how operation status is fetched.
func WithStatusFunc(fn StatusFunc) ClientOption {
	return func(c *Client) {
		c.status = fn
	}
}

// WithDownloadClient overrides the HTTP client used for result downloads.
// Downloads go straight to storage and bypass the cost-aware transport.
func WithDownloadClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.download = hc
	}
}

// NewClient builds a bulk client on top of an existing GraphQL client.
func NewClient(gql *clients.GraphQLClient, cfg *config.Config, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		gql:    gql,
		logger: logger.With(zap.String("component", "bulk_client")),
		download: &http.Client{
			Timeout: cfg.Bulk.DownloadTimeout,
		},
		pollInterval:          cfg.Bulk.PollInterval,
		conflictRetryInterval: cfg.Bulk.ConflictRetryInterval,
		submitTimeout:         cfg.Bulk.SubmitTimeout,
		now:                   time.Now,
	}
	c.submit = c.submitDefault
	c.status = c.statusDefault

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) submitDefault(ctx context.Context, query string) (*Operation, []clients.UserError, error) {
	resp, err := c.gql.Execute(ctx, RunMutation, map[string]interface{}{"query": query})
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		BulkOperationRunQuery struct {
			BulkOperation *Operation          `json:"bulkOperation"`
			UserErrors    []clients.UserError `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, nil, err
	}
	result := payload.BulkOperationRunQuery
	if len(result.UserErrors) > 0 {
		return nil, result.UserErrors, nil
	}
	if result.BulkOperation == nil {
		return nil, nil, errors.New(errors.ErrorTypeData, "submission returned neither an operation nor user errors")
	}
	return result.BulkOperation, nil, nil
}

func (c *Client) statusDefault(ctx context.Context, id string) (*Operation, error) {
	resp, err := c.gql.Execute(ctx, NodeStatusQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Node *Operation `json:"node"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, err
	}
	if payload.Node == nil {
		return nil, errors.Newf(errors.ErrorTypeData, "bulk operation %s not found", id)
	}
	return payload.Node, nil
}

// Current fetches the shop's current bulk operation, or nil when the shop
// has none.
func (c *Client) Current(ctx context.Context) (*Operation, error) {
	resp, err := c.gql.Execute(ctx, CurrentOperationQuery, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		CurrentBulkOperation *Operation `json:"currentBulkOperation"`
	}
	if err := resp.DecodeData(&payload); err != nil {
		return nil, err
	}
	return payload.CurrentBulkOperation, nil
}

// SubmitAndWait injects variables into the query and submits it, retrying
// while the shop's single bulk slot is occupied. Only a conflict user error
// is retried; any other user error fails immediately. Retrying stops after
// the configured wall-clock timeout with a timeout error.
func (c *Client) SubmitAndWait(ctx context.Context, query string, variables map[string]interface{}) (*Operation, error) {
	queryName := ParseQueryName(query)
	log := c.logger.With(zap.String("query", queryName))
	literal := InjectVariables(query, variables)

	start := c.now()
	for c.now().Sub(start) < c.submitTimeout {
		op, uerrs, err := c.submit(ctx, literal)
		if err != nil {
			return nil, err
		}
		if len(uerrs) == 0 {
			log.Info("bulk operation submitted",
				zap.String("operation_id", op.ID),
				zap.String("status", string(op.Status)),
			)
			return op, nil
		}
		if !IsConflict(uerrs) {
			return nil, clients.UserErrorsToError(uerrs)
		}

		log.Info("another bulk operation is running, waiting for the slot",
			zap.Duration("elapsed", c.now().Sub(start)),
			zap.Duration("retry_in", c.conflictRetryInterval),
		)
		if err := sleepContext(ctx, c.conflictRetryInterval); err != nil {
			return nil, err
		}
	}

	return nil, errors.Newf(errors.ErrorTypeTimeout,
		"bulk operation slot for %s still occupied after %s", queryName, c.submitTimeout).
		WithDetail("query", queryName)
}

// Run executes a bulk query end to end and returns a stream of assembled
// records. Operations that finish without a result file, including FAILED
// and CANCELED ones, yield an empty stream rather than an error; callers
// needing the distinction can inspect the returned Operation.
func (c *Client) Run(ctx context.Context, query string, variables map[string]interface{}, registry Registry) (*Operation, *RecordStream, error) {
	queryName := ParseQueryName(query)
	ctx, span := observability.StartSpan(ctx, "bulk.run",
		attribute.String("bulk.query", queryName),
	)

	op, stream, err := c.run(ctx, queryName, query, variables, registry)
	observability.EndSpan(span, err)
	return op, stream, err
}

func (c *Client) run(ctx context.Context, queryName, query string, variables map[string]interface{}, registry Registry) (*Operation, *RecordStream, error) {
	op, err := c.SubmitAndWait(ctx, query, variables)
	if err != nil {
		return nil, nil, err
	}

	// Downstream calls and their logs can pick up the operation id.
	ctx = context.WithValue(ctx, logger.OperationIDKey, op.ID)

	log := c.logger.With(
		zap.String("query", queryName),
		zap.String("operation_id", op.ID),
	)

	for op.Status.InProgress() {
		if err := sleepContext(ctx, c.pollInterval); err != nil {
			return op, nil, err
		}
		op, err = c.status(ctx, op.ID)
		if err != nil {
			return op, nil, err
		}

		elapsed := c.now().Sub(op.CreatedAt)
		log.Info("bulk operation progress",
			zap.String("status", string(op.Status)),
			zap.Duration("elapsed", elapsed),
			zap.Float64("objects", op.Objects()),
			zap.Float64("objects_per_second", objectRate(op.Objects(), elapsed)),
		)
	}

	metrics.BulkOperations.WithLabelValues(string(op.Status)).Inc()

	if op.Status == StatusCompleted && op.URL != "" {
		log.Info("downloading result file", zap.String("object_count", op.ObjectCount.String()))
		stream, err := c.openStream(ctx, op.URL, registry)
		if err != nil {
			return op, nil, err
		}
		return op, stream, nil
	}

	if op.Status == StatusCompleted {
		log.Info("bulk operation completed with no results")
	} else {
		log.Warn("bulk operation ended without data",
			zap.String("status", string(op.Status)),
			zap.String("error_code", op.ErrorCode),
		)
	}
	return op, newEmptyStream(), nil
}

// openStream downloads the result file and wires it to a record stream. The
// URL is a pre-signed cloud storage link, so no access token is sent.
func (c *Client) openStream(ctx context.Context, url string, registry Registry) (*RecordStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build download request")
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "result download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf(errors.ErrorTypeConnection, "result download returned status %d", resp.StatusCode)
	}

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed gzip result file")
		}
		body = &gzipBody{gz: gz, raw: resp.Body}
	}

	return newRecordStream(body, registry, c.logger), nil
}

// gzipBody closes both the decompressor and the network body.
type gzipBody struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.gz.Read(p)
}

func (g *gzipBody) Close() error {
	err := g.gz.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

// objectRate returns objects per second rounded to two decimals, 0 when no
// time has passed.
func objectRate(objects float64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return math.Round(objects/secs*100) / 100
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
