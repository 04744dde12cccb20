package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "beaconly/api/v1"
	"beaconly/internal/config"
)

// publicCORSConfig is the permissive CORS setup shared by the tracking
// endpoints, which are loaded cross-origin from tracked sites.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent, DNT, Sec-GPC",
}

// MountAppRoutes returns the route mount function for the application.
// The ingest handler is built by the app so its dispatcher and identity
// cache share the application lifecycle.
func MountAppRoutes(ingest *v1.IngestHandler) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		cfg := config.GetConfig()

		// Rate limiting only applies in production; in development and test
		// it would interfere with local traffic and the test suite.
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// 70 requests per minute per IP handles legitimate heartbeat traffic
		// while blunting abuse of the public ingestion endpoints.
		publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(70),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		publicAPIConfig := &cartridge.RouteConfig{
			EnableCORS:       true,
			WriteConcurrency: false,
			CustomMiddleware: []fiber.Handler{publicRateLimiter},
			CORSConfig:       publicCORSConfig,
		}

		statsAPIConfig := &cartridge.RouteConfig{
			CustomMiddleware: []fiber.Handler{publicRateLimiter},
		}

		srv.Get("/_health", func(ctx *cartridge.Context) error {
			return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
		})

		// === TRACKING INGRESS ===
		srv.Post("/ingress/:serviceUUID/script", ingest.ScriptAction, publicAPIConfig)
		srv.Options("/ingress/:serviceUUID/script", func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, publicAPIConfig)
		srv.Get("/ingress/:serviceUUID/pixel.gif", ingest.PixelAction, publicAPIConfig)

		// === STATS API ===
		srv.Get("/api/v1/services/:serviceUUID/stats", v1.StatsAction, statsAPIConfig)
	}
}
