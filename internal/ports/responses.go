package ports

import (
	"net/http"

	"github.com/pantrykeep/mealimages/internal/ratelimiting"
)

func writeJSON(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

func writeInternalServerError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, []byte(`{"success":false,"cause":"internal server error"}`))
}

func makeOnLimitExceeded(rateLimiter ratelimiting.RequestRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, []byte(`{"success":false,"cause":"rate limit exceeded"}`))
	}
}

type rateLimits struct {
	ipRefill     float64
	ipBurst      int
	userIDRefill float64
	userIDBurst  int
}

// Token buckets keyed on the client ip and the user id, in that order
func buildRateLimitMiddlewares(limits rateLimits) []func(http.HandlerFunc) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(limits.ipRefill),
		ratelimiting.BurstSize(limits.ipBurst),
	)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		ipLimiter,
		ratelimiting.IPKeyFunc,
	)
	userIDLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(limits.userIDRefill),
		ratelimiting.BurstSize(limits.userIDBurst),
	)
	userIDRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		// NOTE: Rate limiting based on user controlled value
		userIDLimiter,
		ratelimiting.UserIDKeyFunc,
	)

	return []func(http.HandlerFunc) http.HandlerFunc{
		NewRateLimitMiddleware(ipRateLimiter, makeOnLimitExceeded(ipRateLimiter)),
		NewRateLimitMiddleware(userIDRateLimiter, makeOnLimitExceeded(userIDRateLimiter)),
	}
}
