package server

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client. The client table is an LRU
// so a flood of distinct addresses cannot grow it without bound; an evicted
// client simply starts over with a full bucket.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]

	now func() time.Time
}

// NewRateLimiter allows requestsPerSecond sustained requests with the given
// burst for each of at most maxClients tracked clients.
func NewRateLimiter(requestsPerSecond float64, burst, maxClients int) (*RateLimiter, error) {
	if requestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", requestsPerSecond)
	}
	if burst <= 0 {
		burst = max(1, int(math.Ceil(requestsPerSecond)))
	}
	if maxClients <= 0 {
		maxClients = 1024
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		clients: clients,
		now:     time.Now,
	}, nil
}

// CheckRateLimit consumes one token for clientID or returns a
// *RateLimitError telling the client how long to back off.
func (rl *RateLimiter) CheckRateLimit(clientID string) error {
	rl.mu.Lock()
	lim, ok := rl.clients.Get(clientID)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients.Add(clientID, lim)
	}
	rl.mu.Unlock()

	now := rl.now()
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{
			Limit:      float64(rl.limit),
			Burst:      rl.burst,
			RetryAfter: delay,
		}
	}
	return nil
}

// Clients returns the number of clients currently tracked.
func (rl *RateLimiter) Clients() int {
	return rl.clients.Len()
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      float64       // sustained requests per second
	Burst      int           // bucket size
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %g/s, burst: %d, retry after: %v)",
		e.Limit, e.Burst, e.RetryAfter.Round(time.Millisecond))
}
