package middleware

import (
	"net/http"

	"esence/pkg/auth"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// RateLimit applies the per-IP sliding window to the wrapped routes
func RateLimit(limiter *auth.IPRateLimiter, errs *apperrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	limit, window := limiter.Limit()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			allowed, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.Error("Rate limiter error", zap.Error(err))
				respondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !allowed {
				logger.Debug("Rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				errs.Handle(w, r, apperrors.NewRateLimitError(limit, window.String()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
