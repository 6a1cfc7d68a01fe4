package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensworks/aperture/internal/cache"
)

func testLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cache.Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, true)
}

func TestCheckAdmitsUpToLimit(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()

	const limit = 5
	allowed, denied := 0, 0
	for i := 0; i < limit+3; i++ {
		res := l.Check(ctx, "1.2.3.4", ClassFiles, limit, time.Minute)
		if res.Allowed {
			allowed++
		} else {
			denied++
			assert.Zero(t, res.Remaining)
			assert.Equal(t, time.Minute, res.RetryAfter)
		}
		assert.False(t, res.FailedOpen)
		assert.Equal(t, limit, res.Limit)
	}

	assert.Equal(t, limit, allowed, "exactly the limit is admitted, never limit+1")
	assert.Equal(t, 3, denied)
}

func TestCheckConcurrentBurst(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()

	// All goroutines hit the same key at once; the window script must
	// serialize them so exactly the limit gets through, never limit+1.
	const limit, burst = 5, 12
	start := make(chan struct{})
	var wg sync.WaitGroup
	var allowed, denied atomic.Int64

	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Check(ctx, "9.9.9.9", ClassUploads, limit, time.Minute).Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, int64(burst-limit), denied.Load())
}

func TestCheckSlidingWindow(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	const limit = 2
	require.True(t, l.Check(ctx, "c", ClassFiles, limit, time.Minute).Allowed)
	require.True(t, l.Check(ctx, "c", ClassFiles, limit, time.Minute).Allowed)
	require.False(t, l.Check(ctx, "c", ClassFiles, limit, time.Minute).Allowed)

	// Once the old entries age out of the window, admission resumes.
	l.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	assert.True(t, l.Check(ctx, "c", ClassFiles, limit, time.Minute).Allowed)
}

func TestCheckIsolatesClientsAndClasses(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()

	const limit = 1
	require.True(t, l.Check(ctx, "a", ClassFiles, limit, time.Minute).Allowed)
	require.False(t, l.Check(ctx, "a", ClassFiles, limit, time.Minute).Allowed)

	// A different client is unaffected.
	assert.True(t, l.Check(ctx, "b", ClassFiles, limit, time.Minute).Allowed)

	// The same client under a different class is unaffected.
	assert.True(t, l.Check(ctx, "a", ClassUploads, limit, time.Minute).Allowed)
}

func TestCheckRemainingCountsDown(t *testing.T) {
	l := testLimiter(t)
	ctx := context.Background()

	const limit = 3
	for want := limit - 1; want >= 0; want-- {
		res := l.Check(ctx, "d", ClassUploads, limit, time.Minute)
		require.True(t, res.Allowed)
		assert.Equal(t, want, res.Remaining)
	}
}

func TestCheckFailOpen(t *testing.T) {
	l := New(nil, true)
	res := l.Check(context.Background(), "a", ClassFiles, 5, time.Minute)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)
	assert.Equal(t, 5, res.Remaining)
}

func TestCheckFailClosed(t *testing.T) {
	l := New(nil, false)
	res := l.Check(context.Background(), "a", ClassFiles, 5, time.Minute)
	assert.False(t, res.Allowed)
	assert.False(t, res.FailedOpen)
}

func TestCheckStoreDownMidFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	l := New(store, true)

	require.True(t, l.Check(context.Background(), "a", ClassFiles, 5, time.Minute).Allowed)

	mr.Close()
	res := l.Check(context.Background(), "a", ClassFiles, 5, time.Minute)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)
}
