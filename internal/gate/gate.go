// Package gate implements the single admission gate shared by every probe
// and port-scan operation: a weighted semaphore bounds in-flight work while a
// token-bucket limiter spaces operation starts. One gate instance serves all
// phases of a sweep so the total outbound connection rate stays bounded no
// matter which phase is active.
package gate

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/metrics"
)

// Gate admits operations under a concurrency cap and a rate limit.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New creates a gate admitting at most maxConcurrency in-flight operations
// and at most maxRate operation starts per second.
func New(maxConcurrency int, maxRate float64, m *metrics.Metrics) *Gate {
	if m == nil {
		m = metrics.Default()
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		limiter: rate.NewLimiter(rate.Limit(maxRate), 1),
		metrics: m,
	}
}

// Acquire blocks until the operation is admitted or ctx is done. On success
// the caller must Release exactly once. A context abort surfaces as a
// CANCELLED scan error.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(errors.CodeCancelled, "admission aborted", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return errors.Wrap(errors.CodeCancelled, "admission aborted", err)
	}

	g.metrics.RecordAdmissionWait(time.Since(start))
	g.metrics.OpStarted()
	return nil
}

// Release returns the operation's admission slot.
func (g *Gate) Release() {
	g.metrics.OpFinished()
	g.sem.Release(1)
}

// Do runs fn under gate admission, releasing the slot when fn returns.
func (g *Gate) Do(ctx context.Context, fn func()) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	fn()
	return nil
}
