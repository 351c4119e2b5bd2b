package httpapi

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-ingress/core"
)

const (
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEntries = 4096

	metadataRetryAfter = "retry_after_seconds"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per remote host. Idle buckets are swept
// once the pool grows past limiterSweepEntries.
type limiterPool struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     float64
	burst   int
	now     func() time.Time
}

func newLimiterPool(rps float64, burst int, now func() time.Time) *limiterPool {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	if burst <= 0 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &limiterPool{
		entries: map[string]*limiterEntry{},
		rps:     rps,
		burst:   burst,
		now:     now,
	}
}

// reserve reports whether key may proceed and, if not, how long it should
// wait before retrying.
func (p *limiterPool) reserve(key string) (bool, time.Duration) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		if len(p.entries) >= limiterSweepEntries {
			p.sweepLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

func (p *limiterPool) sweepLocked(now time.Time) {
	for key, entry := range p.entries {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(p.entries, key)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// rateLimit rejects callers that exceed their bucket with 429 and a
// Retry-After header. A non-positive rps disables it.
func rateLimit(rps float64, burst int, now func() time.Time) func(http.Handler) http.Handler {
	if rps <= 0 {
		return passthrough
	}
	pool := newLimiterPool(rps, burst, now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, wait := pool.reserve(remoteHost(r.RemoteAddr))
			if !allowed {
				writeError(w, rateLimitedError(wait))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody caps request bodies at maxBytes. Reads past the cap fail with
// *http.MaxBytesError, which readBody maps to 413.
func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, payloadTooLargeError(maxBytes))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requestTimeout bounds the whole pipeline, forward included.
func requestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func rateLimitedError(wait time.Duration) error {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return goerrors.New("rate limit exceeded", goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(map[string]any{metadataRetryAfter: seconds})
}

func payloadTooLargeError(limit int64) error {
	return goerrors.New("request body exceeds configured limit", goerrors.CategoryBadInput).
		WithCode(http.StatusRequestEntityTooLarge).
		WithTextCode(core.ErrorPayloadTooLarge).
		WithMetadata(map[string]any{"limit_bytes": limit})
}

func retryAfterSeconds(err *goerrors.Error) (int, bool) {
	if err == nil || err.TextCode != core.ErrorRateLimited || err.Metadata == nil {
		return 0, false
	}
	seconds, ok := err.Metadata[metadataRetryAfter].(int)
	if !ok || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func remoteHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
