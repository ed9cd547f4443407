package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter считает запросы в фиксированном окне по ключу клиента.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	requests  map[string]int
	lastReset time.Time
	now       func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		requests:  make(map[string]int),
		lastReset: time.Now(),
		now:       time.Now,
	}
}

// Run периодически освобождает память счётчиков, пока ctx жив
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.now().Sub(r.lastReset) > r.window {
				r.requests = make(map[string]int)
				r.lastReset = r.now()
			}
			r.mu.Unlock()
		}
	}
}

func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Сбрасываем счетчики при истечении окна
	if r.now().Sub(r.lastReset) > r.window {
		r.requests = make(map[string]int)
		r.lastReset = r.now()
	}

	count := r.requests[key]
	if count >= r.limit {
		return false
	}
	r.requests[key] = count + 1
	return true
}

// Middleware ограничивает POS терминалы по store_id, остальных по IP.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := clientKey(req)
		if !r.Allow(key) {
			zerolog.Ctx(req.Context()).Warn().Str("client", key).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(r.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientKey(r *http.Request) string {
	if storeID, ok := StoreID(r.Context()); ok {
		return "store:" + strconv.FormatInt(storeID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
