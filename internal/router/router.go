package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/granjafresh/ovostock/internal/config"
	"github.com/granjafresh/ovostock/internal/handler"
	"github.com/granjafresh/ovostock/internal/middleware"
)

// RegisterRoutes registers routes that do not belong to the purchase
// flow on the provided Echo instance.  Currently it exposes only a
// health check, used by load balancers and monitoring to verify that
// the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPurchase registers the reservation and settlement surface.
// The purchase endpoint carries the Redis token-bucket rate limiter;
// the webhook is left unlimited because the provider retries on
// rejection and its delivery is already at-least-once.
func RegisterPurchase(e *echo.Echo, p *handler.PurchaseHandler, a *handler.AvailabilityHandler, w *handler.WebhookHandler, rdb *redis.Client) {
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	g := e.Group("/v1")
	g.POST("/items/:id/purchase", p.Buy, limiter)
	g.GET("/items/:id/availability", a.Get)
	g.GET("/reservations/:id", p.Status)
	g.DELETE("/reservations/:id", p.Cancel)
	g.POST("/payments/webhook", w.Confirm)
}
