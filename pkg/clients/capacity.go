// Package clients provides the cost-aware HTTP transport and GraphQL client
// for the Shopify Admin API.
//
// The Admin API charges every query a point cost against a leaky-bucket
// budget and reports the charge in each response's extensions.cost object.
// CapacityBucket mirrors that budget locally so concurrent requests never
// spend more points than the server is believed to hold, and
// CostAwareTransport keeps the mirror synchronized from server responses.
package clients

import (
	"context"
	"sync"
	"time"

	"github.com/shopgraph/shopgraph/pkg/errors"
	"github.com/shopgraph/shopgraph/pkg/metrics"
)

// CapacityBucket tracks the query-cost points believed to be available on
// the server. All mutation happens under one mutex; waiters block on a
// broadcast condition and re-check the invariant themselves after any
// capacity change. A background goroutine replenishes the bucket at the
// server's advertised restore rate as a fallback against drift.
type CapacityBucket struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current int
	total   int

	done      chan struct{}
	closeOnce sync.Once
}

// NewCapacityBucket creates a full bucket and starts its replenisher, which
// adds restoreAmount points every restoreInterval until Close is called.
func NewCapacityBucket(total, restoreAmount int, restoreInterval time.Duration) *CapacityBucket {
	b := &CapacityBucket{
		current: total,
		total:   total,
		done:    make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	go b.replenish(restoreAmount, restoreInterval)

	return b
}

// replenish models the server's continuous restore rate independent of any
// single request's refund.
func (b *CapacityBucket) replenish(amount int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Add(amount)
		case <-b.done:
			return
		}
	}
}

// Acquire blocks until at least cost points are available, then debits them
// atomically. It returns early with the context error on cancellation.
func (b *CapacityBucket) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		return nil
	}
	if cost > b.total {
		return errors.Newf(errors.ErrorTypeValidation,
			"requested cost %d exceeds total capacity %d", cost, b.total)
	}

	// Wake waiters when the context ends so they can observe cancellation.
	stop := context.AfterFunc(ctx, func() {
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.current < cost {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}

	b.current -= cost
	metrics.CapacityPoints.Set(float64(b.current))
	return nil
}

// Add credits n points, clamped into [0, total]. Negative n debits without
// blocking, used when an actual cost exceeded the pre-paid estimate.
func (b *CapacityBucket) Add(n int) {
	b.mu.Lock()
	next := b.current + n
	if next > b.total {
		next = b.total
	}
	if next < 0 {
		next = 0
	}
	changed := next != b.current
	b.current = next
	level := b.current
	b.mu.Unlock()

	if changed {
		metrics.CapacityPoints.Set(float64(level))
		b.cond.Broadcast()
	}
}

// SyncTo overwrites the local capacity with the server-reported value,
// clamped into [0, total]. Used after a throttled response, where the
// server's currentlyAvailable figure is authoritative.
func (b *CapacityBucket) SyncTo(available int) {
	b.mu.Lock()
	if available > b.total {
		available = b.total
	}
	if available < 0 {
		available = 0
	}
	b.current = available
	level := b.current
	b.mu.Unlock()

	metrics.CapacityPoints.Set(float64(level))
	b.cond.Broadcast()
}

// Current returns the points currently held.
func (b *CapacityBucket) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Total returns the bucket size.
func (b *CapacityBucket) Total() int {
	return b.total
}

// Close stops the replenisher goroutine.
func (b *CapacityBucket) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
