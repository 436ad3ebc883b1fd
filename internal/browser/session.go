package browser

import (
	"context"
	"encoding/json"
)

// Rect is a window rectangle in CSS pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Element references a node located in the current page. ID is the
// backend's handle (a WebDriver element reference); Selector is the CSS
// selector the node was located with, relative to Parent when set.
type Element struct {
	ID       string
	Selector string
	Parent   *Element
}

// Status is the automation backend's readiness report.
type Status struct {
	Ready   bool
	Message string
}

// Capabilities are declared when a session is created.
type Capabilities struct {
	BrowserName string
}

// Backend creates sessions on one automation endpoint.
type Backend interface {
	Status(ctx context.Context) (Status, error)
	NewSession(ctx context.Context, caps Capabilities) (Session, error)
}

// Session is one live browser instance. A session is driven by a single
// goroutine at a time and must be closed exactly once.
type Session interface {
	ID() string
	SetWindowRect(ctx context.Context, rect Rect) error
	Navigate(ctx context.Context, url string) error
	// FindElement returns ErrNoSuchElement when nothing matches.
	FindElement(ctx context.Context, selector string) (Element, error)
	FindChild(ctx context.Context, parent Element, selector string) (Element, error)
	Click(ctx context.Context, el Element) error
	// ExecuteScript runs a function body; Element arguments are passed as DOM nodes.
	ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	// ExecuteAsyncScript runs a function body whose last argument is a
	// completion callback and returns the value it was invoked with.
	ExecuteAsyncScript(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	// ElementScreenshot returns the element's PNG, base64 encoded.
	ElementScreenshot(ctx context.Context, el Element) (string, error)
	Close(ctx context.Context) error
}

// Reporter is implemented by backends that expose runtime counters.
type Reporter interface {
	Report() map[string]any
}
