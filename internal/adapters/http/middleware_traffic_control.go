package httpadapter

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitMiddleware rejects requests above the configured rate with 429
// and a Retry-After hint. A non-positive rps disables the limiter.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	retryAfter := int(math.Ceil(1 / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware caps concurrent requests. Conversions hold a slot
// for the whole pipeline run, so waiting briefly is cheaper than queueing
// unbounded work; requests that cannot get a slot within wait are shed
// with 503. A non-positive maxInFlight disables the gate.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-timer.C:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "server is at capacity, retry later",
			})
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "request canceled while waiting for capacity",
			})
		}
	})
}
