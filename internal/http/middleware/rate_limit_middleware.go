package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/idp-session-core/internal/http/response"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy allows Limit requests per key within each Window.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

// NewRateLimiter builds a process-local sliding window limiter that fails closed.
func NewRateLimiter(limit int, window time.Duration, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	return NewRateLimiterWithPolicy(NewLocalLimiter(), RateLimitPolicy{Limit: limit, Window: window}, FailClosed, scope, keyFunc)
}

func NewRateLimiterWithPolicy(
	limiter Limiter,
	policy RateLimitPolicy,
	mode FailureMode,
	scope string,
	keyFunc func(r *http.Request) string,
) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = ClientIP(r)
			}
			keyType := rateLimitKeyType(key)
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", keyType)
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				decision = Decision{RetryAfter: rl.policy.Window, ResetAt: time.Now().Add(rl.policy.Window)}
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision)
			if !decision.Allowed {
				if err == nil {
					observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", keyType)
				}
				w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", keyType)
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectOrIPKeyFunc keys on the trusted subject header when present, so one user refreshing from many
// addresses shares a budget.
func SubjectOrIPKeyFunc(subjectHeader string) func(r *http.Request) string {
	return func(r *http.Request) string {
		subject := strings.TrimSpace(r.Header.Get(subjectHeader))
		if subject == "" {
			return ClientIP(r)
		}
		return "sub:" + strings.ToLower(subject)
	}
}

type localWindowLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	nextGC  time.Time
	nowFunc func() time.Time
}

func NewLocalLimiter() Limiter {
	return &localWindowLimiter{hits: make(map[string][]time.Time), nowFunc: time.Now}
}

func (l *localWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.nowFunc()
	cutoff := now.Add(-policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextGC) {
		for k, hits := range l.hits {
			if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
				delete(l.hits, k)
			}
		}
		l.nextGC = now.Add(policy.Window)
	}

	hits := l.hits[key]
	first := 0
	for first < len(hits) && !hits[first].After(cutoff) {
		first++
	}
	hits = hits[first:]

	if len(hits) >= policy.Limit {
		l.hits[key] = hits
		reset := hits[0].Add(policy.Window)
		return Decision{RetryAfter: reset.Sub(now), ResetAt: reset}, nil
	}
	hits = append(hits, now)
	l.hits[key] = hits
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - len(hits),
		ResetAt:   hits[0].Add(policy.Window),
	}, nil
}

// RedisFixedWindowLimiter shares budgets across replicas with one INCR per request on a key that
// expires with its window.
type RedisFixedWindowLimiter struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, nowFunc: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.nowFunc()
	windowMs := policy.Window.Milliseconds()
	slot := now.UnixMilli() / windowMs
	reset := time.UnixMilli((slot + 1) * windowMs)
	redisKey := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	count := int(incr.Val())
	if count > policy.Limit {
		return Decision{RetryAfter: reset.Sub(now), ResetAt: reset}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - count, ResetAt: reset}, nil
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	reset := d.ResetAt
	if reset.IsZero() {
		reset = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window < time.Millisecond {
		policy.Window = time.Minute
	}
	return policy
}

func rateLimitKeyType(key string) string {
	if strings.HasPrefix(key, "sub:") {
		return "subject"
	}
	return "ip"
}
