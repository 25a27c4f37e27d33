package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/shopgraph/shopgraph/pkg/config"
	"github.com/shopgraph/shopgraph/pkg/errors"
	"github.com/shopgraph/shopgraph/pkg/metrics"
)

// CostAwareTransport is an http.RoundTripper decorator that pre-pays an
// estimated query cost from the capacity bucket before each request and
// settles up from the response's cost extension afterwards:
//
//   - actualQueryCost present: the request executed; the unused part of the
//     estimate is refunded to the bucket.
//   - actualQueryCost null: the request was throttled; the local bucket is
//     overwritten with the server's currentlyAvailable value, the estimate
//     is replaced by the server-parsed requestedQueryCost, and the request
//     is retried after an exponential backoff.
//   - no cost extension or non-JSON body: cost unknown, the response is
//     returned unchanged.
//
// Non-throttling transport errors propagate unretried. Exhausting the retry
// budget fails the call with a rate_limit error.
type CostAwareTransport struct {
	base   http.RoundTripper
	bucket *CapacityBucket
	logger *zap.Logger

	maxRetries    int
	estimatedCost int
	backoffBase   time.Duration
	backoffFactor int

	requestCounter atomic.Int64
}

// NewCostAwareTransport wraps base with cost-aware rate limiting. When base
// is nil a default HTTP/2-enabled transport is used.
func NewCostAwareTransport(base http.RoundTripper, cfg config.LimiterConfig, logger *zap.Logger) *CostAwareTransport {
	if base == nil {
		base = NewBaseTransport(config.NewDefault().Timeouts, logger)
	}
	return &CostAwareTransport{
		base:          base,
		bucket:        NewCapacityBucket(cfg.TotalCapacity, cfg.RestoreAmount, cfg.RestoreInterval),
		logger:        logger.With(zap.String("component", "cost_aware_transport")),
		maxRetries:    cfg.MaxRetries,
		estimatedCost: cfg.EstimatedCost,
		backoffBase:   cfg.BackoffBase,
		backoffFactor: cfg.BackoffFactor,
	}
}

// NewBaseTransport builds the underlying HTTP transport with HTTP/2 enabled.
func NewBaseTransport(timeouts config.TimeoutConfig, logger *zap.Logger) http.RoundTripper {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeouts.Connection,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       timeouts.Idle,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	return transport
}

// Bucket exposes the capacity bucket, primarily for tests and metrics.
func (t *CostAwareTransport) Bucket() *CapacityBucket {
	return t.bucket
}

// Close stops the bucket's replenisher goroutine.
func (t *CostAwareTransport) Close() {
	t.bucket.Close()
}

// RoundTrip implements http.RoundTripper.
func (t *CostAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	requestID := t.requestCounter.Add(1)
	log := t.logger.With(zap.Int64("request_id", requestID))

	// Capture the body so the request can be replayed on retry.
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to buffer request body")
		}
		body = b
	}

	estimate := t.estimatedCost
	backoff := t.backoffBase

	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if err := t.bucket.Acquire(ctx, estimate); err != nil {
			return nil, err
		}

		timer := metrics.NewTimer("execute")
		resp, err := t.base.RoundTrip(t.cloneRequest(req, body))
		metrics.ObserveRequest("execute", timer.Stop())
		if err != nil {
			// Transport-level failures are not this layer's to retry.
			metrics.GraphQLRequests.WithLabelValues("error").Inc()
			return nil, err
		}

		cost, err := t.settleCost(resp, estimate)
		if err != nil {
			return nil, err
		}
		if cost == nil || !cost.Throttled() {
			metrics.GraphQLRequests.WithLabelValues("success").Inc()
			return resp, nil
		}

		// Throttled: the server parsed the query, so its requestedQueryCost
		// is more accurate than our default estimate.
		estimate = cost.RequestedQueryCost
		t.bucket.SyncTo(int(cost.ThrottleStatus.CurrentlyAvailable))
		metrics.GraphQLRequests.WithLabelValues("throttled").Inc()
		metrics.ThrottleRetries.Inc()

		logFn := log.Info
		if attempt <= t.maxRetries/2 {
			logFn = log.Warn
		}
		logFn("request throttled, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", t.maxRetries),
			zap.Int("requested_cost", estimate),
			zap.Int("capacity", t.bucket.Current()),
			zap.Duration("backoff", backoff),
		)

		if err := sleepContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= time.Duration(t.backoffFactor)
	}

	return nil, errors.Newf(errors.ErrorTypeRateLimit,
		"request failed after %d attempts due to throttling", t.maxRetries).
		WithDetail("request_id", requestID)
}

// cloneRequest produces a fresh request for one attempt, restoring the
// buffered body.
func (t *CostAwareTransport) cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}

// settleCost reads the response body, parses the cost extension, refunds the
// unused estimate on success, and restores the body for the caller. A nil
// QueryCost means the cost is unknown and nothing was adjusted.
func (t *CostAwareTransport) settleCost(resp *http.Response, estimate int) (*QueryCost, error) {
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	cost := extractQueryCost(raw)
	if cost == nil || cost.Throttled() {
		return cost, nil
	}

	// Refund the unused part of the pre-paid estimate. The actually incurred
	// cost is recovered over time by the restore rate.
	t.bucket.Add(estimate - *cost.ActualQueryCost)
	return cost, nil
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
