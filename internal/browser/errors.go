package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSuchElement = errors.New("no such element")
	ErrSessionClosed = errors.New("browser session closed")
	ErrScriptTimeout = errors.New("script timeout")
	ErrUnavailable   = errors.New("browser backend unavailable")
)

// CommandError is an error payload returned by the automation backend.
type CommandError struct {
	Status  int
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webdriver error [%d %s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("webdriver error [%s]: %s", e.Code, e.Message)
}

// Is maps W3C error codes onto the package sentinels.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrNoSuchElement:
		return e.Code == "no such element"
	case ErrScriptTimeout:
		return e.Code == "script timeout"
	case ErrSessionClosed:
		return e.Code == "invalid session id" || e.Code == "no such window"
	}
	return false
}

// IsSessionInterrupted reports whether err means the browser behind a
// session went away, so the backend should be restarted before reuse.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrSessionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket: close") ||
		strings.Contains(msg, "connection reset")
}
