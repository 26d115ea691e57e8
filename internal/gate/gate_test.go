package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsweep/netsweep/internal/errors"
	"github.com/netsweep/netsweep/internal/metrics"
)

func TestConcurrencyCap(t *testing.T) {
	const limit = 4
	g := New(limit, 100000, metrics.New())

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
	assert.Positive(t, atomic.LoadInt64(&peak))
}

func TestRateLimit(t *testing.T) {
	// 50 ops/sec with 20 admissions needs at least ~380ms after the first
	// token; allow generous slack below that bound.
	g := New(100, 50, metrics.New())

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, g.Acquire(context.Background()))
		g.Release()
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestAcquireHonorsCancellation(t *testing.T) {
	g := New(1, 1000, metrics.New())
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))

	g.Release()
}

func TestSlotReleasedWhenRateWaitCancelled(t *testing.T) {
	// Exhaust the token bucket, then cancel during the rate wait. The
	// semaphore slot must come back so later acquires succeed.
	g := New(1, 0.5, metrics.New())
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, g.Acquire(ctx))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	assert.NoError(t, g.Acquire(ctx2))
	g.Release()
}

func TestDoReleasesSlot(t *testing.T) {
	g := New(2, 1000, metrics.New())

	ran := false
	require.NoError(t, g.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	// All slots free again.
	for i := 0; i < 2; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
}
