package api

import (
	"relay/internal/server/config"
	"relay/internal/server/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The caller owns lookupGate and closes it on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config, lookupGate *ratelimit.Window) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Upload
	e.POST("/api/send", handler.HandleSend)

	// Metadata preview and download (rate-limited)
	e.GET("/api/info/:code", handler.HandleInfo, RateLimitGate(lookupGate))
	e.GET("/r/:code", handler.HandleReceive, RateLimitGate(lookupGate))

	// Early delete (also a code lookup, so also gated)
	e.DELETE("/api/transfers/:code", handler.HandleDelete, RateLimitGate(lookupGate))

	return e
}
