// Package browsertest provides in-memory browser backends for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dynshot/internal/browser"
)

// Call is one recorded session operation.
type Call struct {
	Op  string
	Arg string
}

// Session is a scriptable browser.Session. Hooks left nil succeed.
type Session struct {
	SessionID string

	OnNavigate      func(ctx context.Context, url string) error
	OnFind          func(ctx context.Context, selector string) (browser.Element, error)
	OnClick         func(ctx context.Context, el browser.Element) error
	OnScript        func(ctx context.Context, script string, args []any) (json.RawMessage, error)
	OnAsyncScript   func(ctx context.Context, script string, args []any) (json.RawMessage, error)
	OnScreenshot    func(ctx context.Context, el browser.Element) (string, error)
	OnClose         func(ctx context.Context) error
	OnSetWindowRect func(ctx context.Context, rect browser.Rect) error

	mu       sync.Mutex
	calls    []Call
	closes   atomic.Int32
	OpenedAt time.Time
	ClosedAt time.Time
}

func (s *Session) record(op, arg string) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Arg: arg})
	s.mu.Unlock()
}

// Calls returns a copy of the recorded operations.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the names of recorded operations in order.
func (s *Session) Ops() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// Closes reports how many times Close was called.
func (s *Session) Closes() int {
	return int(s.closes.Load())
}

func (s *Session) ID() string { return s.SessionID }

func (s *Session) SetWindowRect(ctx context.Context, rect browser.Rect) error {
	s.record("set_window_rect", fmt.Sprintf("%d,%d,%d,%d", rect.X, rect.Y, rect.Width, rect.Height))
	if s.OnSetWindowRect != nil {
		return s.OnSetWindowRect(ctx, rect)
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.record("navigate", url)
	if s.OnNavigate != nil {
		return s.OnNavigate(ctx, url)
	}
	return nil
}

func (s *Session) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	s.record("find", selector)
	if s.OnFind != nil {
		return s.OnFind(ctx, selector)
	}
	return browser.Element{ID: "el-" + selector, Selector: selector}, nil
}

func (s *Session) FindChild(ctx context.Context, parent browser.Element, selector string) (browser.Element, error) {
	s.record("find_child", selector)
	if s.OnFind != nil {
		el, err := s.OnFind(ctx, selector)
		if err == nil {
			p := parent
			el.Parent = &p
		}
		return el, err
	}
	p := parent
	return browser.Element{ID: "el-" + selector, Selector: selector, Parent: &p}, nil
}

func (s *Session) Click(ctx context.Context, el browser.Element) error {
	s.record("click", el.Selector)
	if s.OnClick != nil {
		return s.OnClick(ctx, el)
	}
	return nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	s.record("script", "")
	if s.OnScript != nil {
		return s.OnScript(ctx, script, args)
	}
	return json.RawMessage("null"), nil
}

func (s *Session) ExecuteAsyncScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	s.record("async_script", "")
	if s.OnAsyncScript != nil {
		return s.OnAsyncScript(ctx, script, args)
	}
	return json.RawMessage("null"), nil
}

func (s *Session) ElementScreenshot(ctx context.Context, el browser.Element) (string, error) {
	s.record("screenshot", el.Selector)
	if s.OnScreenshot != nil {
		return s.OnScreenshot(ctx, el)
	}
	return "iVBORw0KGgo=", nil
}

func (s *Session) Close(ctx context.Context) error {
	s.closes.Add(1)
	s.mu.Lock()
	s.ClosedAt = time.Now()
	s.mu.Unlock()
	s.record("close", "")
	if s.OnClose != nil {
		return s.OnClose(ctx)
	}
	return nil
}

// Span is the acquire-to-release interval of one session.
type Span struct {
	SessionID string
	Opened    time.Time
	Closed    time.Time
}

// Backend is a browser.Backend whose readiness and sessions are scripted.
type Backend struct {
	// NotReady is the number of initial Status calls that report not ready.
	NotReady int
	// StatusErr, when set, is returned by every Status call.
	StatusErr error
	// NewSessionFunc customizes each created session.
	NewSessionFunc func(n int) (*Session, error)

	mu       sync.Mutex
	polls    int
	pollAt   []time.Time
	sessions []*Session
}

func (b *Backend) Status(ctx context.Context) (browser.Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	b.pollAt = append(b.pollAt, time.Now())
	if b.StatusErr != nil {
		return browser.Status{}, b.StatusErr
	}
	if b.polls <= b.NotReady {
		return browser.Status{Ready: false, Message: "starting"}, nil
	}
	return browser.Status{Ready: true, Message: "ready"}, nil
}

func (b *Backend) NewSession(ctx context.Context, caps browser.Capabilities) (browser.Session, error) {
	b.mu.Lock()
	n := len(b.sessions) + 1
	b.mu.Unlock()

	var (
		s   *Session
		err error
	)
	if b.NewSessionFunc != nil {
		s, err = b.NewSessionFunc(n)
		if err != nil {
			return nil, err
		}
	} else {
		s = &Session{}
	}
	if s.SessionID == "" {
		s.SessionID = fmt.Sprintf("session-%d", n)
	}
	s.OpenedAt = time.Now()

	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	return s, nil
}

// Polls reports how many Status calls were made.
func (b *Backend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

// Sessions returns every session created so far.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Spans returns the open/close interval of every created session.
func (b *Backend) Spans() []Span {
	out := make([]Span, 0)
	for _, s := range b.Sessions() {
		s.mu.Lock()
		out = append(out, Span{SessionID: s.SessionID, Opened: s.OpenedAt, Closed: s.ClosedAt})
		s.mu.Unlock()
	}
	return out
}
