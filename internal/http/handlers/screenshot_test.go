package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynshot/internal/browser"
	"dynshot/internal/domain"
	"dynshot/internal/queue"
)

type stubQueue struct {
	got    domain.Identifier
	result domain.Result
	err    error
}

func (s *stubQueue) Submit(ctx context.Context, id domain.Identifier) (domain.Result, error) {
	s.got = id
	return s.result, s.err
}

func (s *stubQueue) Stats() queue.Stats {
	return queue.Stats{Pending: 1, MaxDepth: 64}
}

type stubManager struct{}

func (stubManager) Stats() browser.ManagerStats {
	return browser.ManagerStats{ReadyPolls: 3, SessionsAcquired: 2, SessionsClosed: 2}
}

type stubBackend struct{}

func (stubBackend) Report() map[string]any {
	return map[string]any{"backend": "webdriver"}
}

func newApp(q Queue) *fiber.App {
	svc := NewScreenshotService(q, stubManager{}, stubBackend{})
	app := fiber.New()
	app.Get("/dynamic/:id/screenshot", svc.HandleScreenshot)
	app.Get("/queue/stats", svc.HandleQueueStats)
	app.Get("/browser/stats", svc.HandleBrowserStats)
	return app
}

func TestHandleScreenshot_ReturnsPNG(t *testing.T) {
	q := &stubQueue{result: domain.Success([]byte{0x89, 'P', 'N', 'G'})}
	resp, err := newApp(q).Test(httptest.NewRequest("GET", "/dynamic/123%2F45/screenshot", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", resp.Header.Get(HeaderResultCode))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body)
	assert.Equal(t, domain.Identifier("123/45"), q.got)
}

func TestHandleScreenshot_FailureStatuses(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Result
		err    error
		want   int
	}{
		{name: "not found", result: domain.Failure(domain.ErrContentNotFound), want: fiber.StatusNotFound},
		{name: "wait timeout", result: domain.Failure(domain.ErrWaitTimeout), want: fiber.StatusGatewayTimeout},
		{name: "capture", result: domain.Failure(domain.NewStepError("capture", domain.CodeCapture, io.ErrUnexpectedEOF)), want: fiber.StatusBadGateway},
		{name: "queue full", err: domain.ErrQueueFull, want: fiber.StatusTooManyRequests},
		{name: "shutting down", err: domain.ErrShuttingDown, want: fiber.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &stubQueue{result: tc.result, err: tc.err}
			resp, err := newApp(q).Test(httptest.NewRequest("GET", "/dynamic/1/screenshot", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestHandleStats(t *testing.T) {
	app := newApp(&stubQueue{})

	resp, err := app.Test(httptest.NewRequest("GET", "/queue/stats", nil))
	require.NoError(t, err)
	var qs queue.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&qs))
	assert.Equal(t, 64, qs.MaxDepth)

	resp, err = app.Test(httptest.NewRequest("GET", "/browser/stats", nil))
	require.NoError(t, err)
	var bs struct {
		Sessions browser.ManagerStats `json:"sessions"`
		Backend  map[string]any       `json:"backend"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bs))
	assert.EqualValues(t, 3, bs.Sessions.ReadyPolls)
	assert.Equal(t, "webdriver", bs.Backend["backend"])
}
