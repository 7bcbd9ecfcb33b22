package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// RejectFunc writes the response for a request over its session's rate.
// Retry-After is already set when it runs.
type RejectFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// Middleware paces HTTP requests per key. Over-rate requests get Retry-After
// set to the time until the next token and are passed to reject, which defaults
// to a plain 429. Requests with an empty key are never limited.
func Middleware(p *Pacer, key func(*http.Request) string, reject RejectFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			lim := p.For(id)
			res := lim.Reserve()
			if wait := res.Delay(); wait > 0 {
				res.Cancel()
				secs := max(int(math.Ceil(wait.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("X-RateLimit-Remaining", "0")
				reject(w, r, wait)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(lim.Tokens()), 0)))
			next.ServeHTTP(w, r)
		})
	}
}
