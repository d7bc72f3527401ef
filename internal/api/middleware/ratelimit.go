package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/medscribe/soapflow/internal/api/respond"
	"github.com/medscribe/soapflow/internal/apperr"
)

// RateLimiter holds one token bucket per user. The number of tracked users
// is bounded; evicted users start again with a full bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows rps requests per second per user with the given burst.
func NewRateLimiter(rps float64, burst, maxUsers int) (*RateLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](maxUsers)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{limit: rate.Limit(rps), burst: burst, limiters: cache}, nil
}

func (rl *RateLimiter) limiter(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters.Get(userID)
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(userID, l)
	}
	return l
}

// Allow reports whether userID may make a request now.
func (rl *RateLimiter) Allow(userID string) bool {
	return rl.limiter(userID).Allow()
}

// Handler rejects requests over the user's rate with 429. It must run after
// BearerAuth.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetUserID(r.Context())) {
			retry := 1
			if rl.limit > 0 {
				retry = int(math.Ceil(1 / float64(rl.limit)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			respond.Fail(w, apperr.KindRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
