// Package metrics provides Prometheus metric collection for shopgraph.
// Metrics cover the cost-aware transport (request outcomes, throttling,
// local capacity) and the bulk operation client (operation outcomes and
// streamed record counts). All metrics are registered automatically via
// promauto and are safe for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GraphQLRequests tracks GraphQL requests by outcome.
	// Labels: status (success/throttled/error)
	//
	// Example:
	//	metrics.GraphQLRequests.WithLabelValues("success").Inc()
	GraphQLRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopgraph_graphql_requests_total",
			Help: "Total number of GraphQL requests by outcome",
		},
		[]string{"status"},
	)

	// ThrottleRetries tracks retries caused by server-side throttling
	ThrottleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopgraph_throttle_retries_total",
			Help: "Total number of retries caused by query-cost throttling",
		},
	)

	// CapacityPoints tracks the current local capacity bucket level
	CapacityPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopgraph_capacity_points",
			Help: "Current query-cost capacity points held locally",
		},
	)

	// RequestLatency tracks the distribution of GraphQL request latencies.
	// Labels: operation (execute/download)
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "shopgraph_request_latency_seconds",
			Help: "GraphQL request latency in seconds",
			Buckets: []float64{
				0.01, // fast cached responses
				0.05,
				0.1,
				0.25,
				0.5,
				1,
				2.5,
				5,
				10, // bulk file downloads
			},
		},
		[]string{"operation"},
	)

	// BulkOperations tracks completed bulk operations by terminal status.
	// Labels: status (COMPLETED/FAILED/CANCELED/EXPIRED)
	BulkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopgraph_bulk_operations_total",
			Help: "Total number of bulk operations by terminal status",
		},
		[]string{"status"},
	)

	// BulkRecordsStreamed tracks records assembled from bulk export files
	BulkRecordsStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopgraph_bulk_records_streamed_total",
			Help: "Total number of records assembled from bulk export files",
		},
	)

	// OrphanedChildren tracks child lines dropped for lack of a pending parent
	OrphanedChildren = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopgraph_orphaned_children_total",
			Help: "Total number of export lines dropped because no parent was pending",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveRequest records a request latency observation.
func ObserveRequest(operation string, d time.Duration) {
	RequestLatency.WithLabelValues(operation).Observe(d.Seconds())
}
