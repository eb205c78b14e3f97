package api

import (
	"log/slog"
	"time"

	"relay/internal/server/ratelimit"
	"relay/internal/server/service"

	"github.com/labstack/echo/v4"
)

// RateLimitGate returns an echo middleware that gates code-resolution
// attempts per client IP. The gate is consulted before the registry sees
// the code; a denied attempt never reaches a lookup.
func RateLimitGate(gate *ratelimit.Window) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !gate.Allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip)
				return mapServiceError(c, service.ErrRateLimited)
			}
			return next(c)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
