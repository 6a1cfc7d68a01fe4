package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lensworks/aperture/internal/cache"
)

// Operation classes. Each class gets its own window per client so a burst of
// file requests cannot exhaust a client's upload budget.
const (
	ClassFiles   = "files"
	ClassUploads = "uploads"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int           // requests left in the window after this check
	Reset      time.Time     // when the oldest entry falls out of the window
	RetryAfter time.Duration // suggested wait on denial
	FailedOpen bool          // store was unreachable; request admitted without counting
}

// windowScript prunes expired entries, counts the remainder and conditionally
// records the current request, all in one atomic step so concurrent checks on
// the same key cannot both slip under the limit.
//
// KEYS[1] window key
// ARGV[1] now (microseconds), ARGV[2] window (microseconds), ARGV[3] limit, ARGV[4] member
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count < limit then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, math.ceil(window / 1000))
	return {1, count + 1}
end
return {0, count}
`)

// Limiter is a sliding-window request counter keyed by client identity and
// operation class, backed by the shared cache store. When the store is
// unreachable the limiter fails open: site availability is preferred over
// strict enforcement during outages.
type Limiter struct {
	store    *cache.Store
	failOpen bool
	now      func() time.Time
}

func New(store *cache.Store, failOpen bool) *Limiter {
	return &Limiter{
		store:    store,
		failOpen: failOpen,
		now:      time.Now,
	}
}

// Check admits or denies one request for (clientID, class) under limit
// requests per window.
func (l *Limiter) Check(ctx context.Context, clientID, class string, limit int, window time.Duration) Result {
	now := l.now()
	res := Result{
		Limit:      limit,
		Reset:      now.Add(window),
		RetryAfter: window,
	}

	client := l.store.Client()
	if client == nil {
		return l.open(res, nil)
	}

	key := fmt.Sprintf("ratelimit:%s:%s", class, clientID)
	member := fmt.Sprintf("%d:%s", now.UnixMicro(), uuid.New().String())

	vals, err := windowScript.Run(ctx, client,
		[]string{key},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		member,
	).Int64Slice()
	if err != nil || len(vals) != 2 {
		return l.open(res, err)
	}

	count := int(vals[1])
	res.Allowed = vals[0] == 1
	res.Remaining = limit - count
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res
}

// open resolves an unreachable-store check according to the fail-open policy.
func (l *Limiter) open(res Result, err error) Result {
	slog.Warn("rate limiter store unavailable", "error", err, "fail_open", l.failOpen)
	if l.failOpen {
		res.Allowed = true
		res.Remaining = res.Limit
		res.FailedOpen = true
	}
	return res
}
