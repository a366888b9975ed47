package httpapi

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"crouswatch/internal/ops"
	"crouswatch/internal/poller"
	"crouswatch/internal/watch"
)

const (
	deliveriesDefault = 50
	deliveriesMax     = 500
)

// jsonSuccess wraps data in the standard envelope.
func jsonSuccess(c fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"data":   data,
	})
}

func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

func actor(c fiber.Ctx) ops.Actor {
	return ops.Actor{Source: "http", Name: c.IP()}
}

func (s *Server) status(c fiber.Ctx) error {
	return jsonSuccess(c, s.ops.Status())
}

func (s *Server) listings(c fiber.Ctx) error {
	return jsonSuccess(c, s.ops.Listings())
}

func (s *Server) healthz(c fiber.Ctx) error {
	return jsonSuccess(c, fiber.Map{"alive": true})
}

func (s *Server) deliveries(c fiber.Ctx) error {
	limit := deliveriesDefault
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return jsonError(c, fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, deliveriesMax)
	}
	items, err := s.ops.Deliveries(c.Context(), limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "failed to read deliveries")
	}
	return jsonSuccess(c, items)
}

// cycleView is the JSON form of a cycle report.
type cycleView struct {
	ID            string               `json:"id"`
	Outcome       string               `json:"outcome"`
	DurationMS    int64                `json:"duration_ms"`
	Observed      int                  `json:"observed"`
	Tracked       int                  `json:"tracked"`
	New           int                  `json:"new"`
	Reminders     int                  `json:"reminders"`
	Disappeared   int                  `json:"disappeared"`
	DispatchFails int                  `json:"dispatch_fails"`
	Notifications []watch.Notification `json:"notifications"`
	Error         string               `json:"error,omitempty"`
}

func viewReport(rep watch.Report) cycleView {
	v := cycleView{
		ID:            rep.CycleID,
		Outcome:       rep.Outcome,
		DurationMS:    rep.Duration.Milliseconds(),
		Observed:      rep.Observed,
		Tracked:       rep.Tracked,
		New:           rep.New,
		Reminders:     rep.Reminders,
		Disappeared:   rep.Disappeared,
		DispatchFails: rep.DispatchFails,
		Notifications: rep.Notifications,
	}
	if v.Notifications == nil {
		v.Notifications = []watch.Notification{}
	}
	if rep.Err != nil {
		v.Error = rep.Err.Error()
	}
	return v
}

func (s *Server) check(c fiber.Ctx) error {
	rep, err := s.ops.Check(c.Context(), actor(c))
	switch {
	case errors.Is(err, poller.ErrStopped):
		return jsonError(c, fiber.StatusServiceUnavailable, "watcher is stopping")
	case err != nil && rep.CycleID == "":
		return jsonError(c, fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		// The cycle ran and failed; report it like any other.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"status": "error",
			"error":  err.Error(),
			"data":   viewReport(rep),
		})
	}
	return jsonSuccess(c, viewReport(rep))
}

func (s *Server) reset(c fiber.Ctx) error {
	n, err := s.ops.Reset(c.Context(), actor(c))
	if errors.Is(err, poller.ErrStopped) {
		return jsonError(c, fiber.StatusServiceUnavailable, "watcher is stopping")
	}
	if err != nil {
		return jsonError(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return jsonSuccess(c, fiber.Map{"dropped": n})
}
