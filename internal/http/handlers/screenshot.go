package handlers

import (
	"context"
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"dynshot/internal/browser"
	"dynshot/internal/domain"
	"dynshot/internal/queue"
)

// HeaderResultCode carries the render result code on screenshot responses.
const HeaderResultCode = "X-Dynshot-Code"

// Queue is the part of the render queue the handlers use.
type Queue interface {
	Submit(ctx context.Context, id domain.Identifier) (domain.Result, error)
	Stats() queue.Stats
}

// SessionStats reports session manager activity.
type SessionStats interface {
	Stats() browser.ManagerStats
}

// ScreenshotService serves the HTTP mirror of the RPC surface.
type ScreenshotService struct {
	Queue   Queue
	Manager SessionStats
	// Backend is optional.
	Backend browser.Reporter
}

func NewScreenshotService(q Queue, mgr SessionStats, backend browser.Reporter) *ScreenshotService {
	return &ScreenshotService{Queue: q, Manager: mgr, Backend: backend}
}

// HandleScreenshot renders the dynamic named by :id and returns the PNG.
func (svc *ScreenshotService) HandleScreenshot(c *fiber.Ctx) error {
	raw := c.Params("id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid dynamic id")
	}
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, domain.ErrEmptyIdentifier.Error())
	}
	// The job can outlive this request; fiber reuses the request buffers.
	id = utils.CopyString(id)

	res, err := svc.Queue.Submit(c.UserContext(), domain.Identifier(id))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQueueFull):
			c.Set(fiber.HeaderRetryAfter, "5")
			return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
		case errors.Is(err, domain.ErrShuttingDown):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		default:
			return fiber.NewError(fiber.StatusRequestTimeout, err.Error())
		}
	}

	c.Set(HeaderResultCode, string(res.Code))
	if !res.OK() {
		return fiber.NewError(statusForCode(res.Code), res.Message)
	}
	c.Type("png")
	return c.Send(res.Image)
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNotFound:
		return fiber.StatusNotFound
	case domain.CodeWaitTimeout, domain.CodeDeadlineExceeded:
		return fiber.StatusGatewayTimeout
	case domain.CodeShuttingDown:
		return fiber.StatusServiceUnavailable
	case domain.CodeInternal:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadGateway
	}
}

// HandleQueueStats returns the queue snapshot.
func (svc *ScreenshotService) HandleQueueStats(c *fiber.Ctx) error {
	return c.JSON(svc.Queue.Stats())
}

// HandleBrowserStats returns session manager and backend counters.
func (svc *ScreenshotService) HandleBrowserStats(c *fiber.Ctx) error {
	out := fiber.Map{}
	if svc.Manager != nil {
		out["sessions"] = svc.Manager.Stats()
	}
	if svc.Backend != nil {
		out["backend"] = svc.Backend.Report()
	}
	return c.JSON(out)
}
