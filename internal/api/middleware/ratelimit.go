package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/arisu-i18n/arisu/internal/config"
	"golang.org/x/time/rate"
)

type RateLimitTier string

const (
	TierPublic RateLimitTier = "public"
	// TierLogin guards credential checks with a small burst and slow refill.
	TierLogin RateLimitTier = "login"
)

// RateLimiter keeps one token bucket per client and tier.
type RateLimiter struct {
	store          *limiterStore
	trustedProxies []string
	env            string
}

func NewRateLimiter(cfg config.RateLimitConfig, trustedProxies []string, env string) *RateLimiter {
	return &RateLimiter{
		store:          newLimiterStore(cfg),
		trustedProxies: trustedProxies,
		env:            env,
	}
}

// Limit charges every request to tier. Tiers stack: a login route wrapped
// in Limit(TierLogin) behind the public limiter spends from both buckets.
func (l *RateLimiter) Limit(tier RateLimitTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := l.store.limiter(tier, ClientIP(r, l.trustedProxies))
			if limiter == nil || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(l.store.retryAfterSeconds(tier)))
			problem.Write(w, r, http.StatusTooManyRequests, "You are being rate limited, try again later", nil, l.env)
		})
	}
}

// Stop ends the background cleanup of idle limiters.
func (l *RateLimiter) Stop() {
	l.store.Stop()
}

type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perMinute map[RateLimitTier]int
	stopOnce  sync.Once
	stop      chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	store := &limiterStore{
		limiters: make(map[string]*limiterEntry),
		perMinute: map[RateLimitTier]int{
			TierPublic: cfg.PublicPerMinute,
			TierLogin:  cfg.LoginPerMinute,
		},
		stop: make(chan struct{}),
	}
	go store.cleanupLoop()
	return store
}

func (s *limiterStore) limiter(tier RateLimitTier, key string) *rate.Limiter {
	limit := s.perMinute[tier]
	if limit <= 0 {
		return nil
	}
	lookup := string(tier) + ":" + key

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.limiters[lookup]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit)
	s.limiters[lookup] = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (s *limiterStore) retryAfterSeconds(tier RateLimitTier) int {
	limit := s.perMinute[tier]
	if limit <= 0 {
		return 0
	}
	seconds := 60 / limit
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// cleanupLoop drops limiters idle for 15 minutes so the map stays bounded.
func (s *limiterStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now(), 15*time.Minute)
		case <-s.stop:
			return
		}
	}
}

func (s *limiterStore) cleanup(now time.Time, idle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
