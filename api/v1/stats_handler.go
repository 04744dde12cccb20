package v1

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"beaconly/internal/analytics"
	"beaconly/internal/services"
)

// StatsAction serves the aggregated report for one service, including the
// comparison period. Optional start/end query params are RFC3339; omitted
// bounds default to the last thirty days.
func StatsAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	service, err := services.GetServiceByUUID(db, ctx.Params("serviceUUID"))
	if err != nil {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "service not found",
		})
	}

	var start, end *time.Time
	if raw := ctx.Query("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid start time, expected RFC3339",
			})
		}
		start = &parsed
	}
	if raw := ctx.Query("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid end time, expected RFC3339",
			})
		}
		end = &parsed
	}

	report, err := analytics.GetCoreStats(ctx.Logger, db, service, start, end)
	if err != nil {
		ctx.Logger.Error("Failed to compute stats",
			slog.String("service", service.UUID),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute stats",
		})
	}

	return ctx.Status(http.StatusOK).JSON(report)
}
