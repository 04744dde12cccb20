// Package v1 exposes the public tracking endpoints and the stats API.
package v1

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"beaconly/internal/pkg/async"
	"beaconly/internal/tracker"
)

// A 1x1 transparent GIF, served to pixel trackers.
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// IngestHandler serves the tracking endpoints. Deliveries are handed to the
// dispatcher and the HTTP response returns immediately; the client never
// learns whether ingestion succeeded, was rejected, or failed.
type IngestHandler struct {
	trk        *tracker.Tracker
	dispatcher *async.Dispatcher
}

func NewIngestHandler(trk *tracker.Tracker, dispatcher *async.Dispatcher) *IngestHandler {
	return &IngestHandler{trk: trk, dispatcher: dispatcher}
}

// scriptPayload is the body posted by the tracking script.
type scriptPayload struct {
	Idempotency string  `json:"idempotency"`
	LoadTime    float64 `json:"loadTime"`
	Location    string  `json:"location"`
	Referrer    string  `json:"referrer"`
	Identifier  string  `json:"identifier"`
}

// ScriptAction ingests a POST from the tracking script.
func (h *IngestHandler) ScriptAction(ctx *cartridge.Context) error {
	var payload scriptPayload
	if err := ctx.BodyParser(&payload); err != nil {
		ctx.Logger.Debug("Unparseable tracking payload", slog.Any("error", err))
		// Still report success; the tracker must always appear to work.
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"status": "ok"})
	}

	req := tracker.Request{
		ServiceUUID:      ctx.Params("serviceUUID"),
		Tracker:          tracker.TrackerJS,
		Timestamp:        time.Now().UTC(),
		ClientIP:         getClientIP(ctx.Ctx),
		ReferrerLocation: ctx.Get("Referer"),
		UserAgent:        ctx.Get("User-Agent"),
		DoNotTrack:       doNotTrackRequested(ctx.Ctx),
		Identifier:       payload.Identifier,
		Payload: tracker.Payload{
			Idempotency: payload.Idempotency,
			LoadTime:    payload.LoadTime,
			Location:    payload.Location,
			Referrer:    payload.Referrer,
		},
	}

	h.dispatch(ctx.Logger, req)
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"status": "ok"})
}

// PixelAction ingests a GET for the tracking pixel and answers with the GIF.
// The pixel carries no payload, so every request is its own hit.
func (h *IngestHandler) PixelAction(ctx *cartridge.Context) error {
	req := tracker.Request{
		ServiceUUID:      ctx.Params("serviceUUID"),
		Tracker:          tracker.TrackerPixel,
		Timestamp:        time.Now().UTC(),
		ClientIP:         getClientIP(ctx.Ctx),
		ReferrerLocation: ctx.Get("Referer"),
		UserAgent:        ctx.Get("User-Agent"),
		DoNotTrack:       doNotTrackRequested(ctx.Ctx),
		Identifier:       ctx.Query("identifier"),
	}

	h.dispatch(ctx.Logger, req)

	ctx.Set("Content-Type", "image/gif")
	ctx.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	return ctx.Status(http.StatusOK).Send(transparentPixel)
}

func (h *IngestHandler) dispatch(logger *slog.Logger, req tracker.Request) {
	accepted := h.dispatcher.Dispatch(async.Task{
		Name: "ingest",
		Execute: func() error {
			return h.trk.Ingest(req)
		},
	})
	if !accepted {
		logger.Warn("Ingestion delivery dropped", slog.String("service", req.ServiceUUID))
	}
}
