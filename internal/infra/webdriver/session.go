package webdriver

import (
	"context"
	"encoding/json"
	"fmt"

	"dynshot/internal/browser"
)

type session struct {
	b  *Backend
	id string
}

func (s *session) ID() string { return s.id }

func (s *session) path(suffix string) string {
	return "/session/" + escape(s.id) + suffix
}

func (s *session) SetWindowRect(ctx context.Context, rect browser.Rect) error {
	if err := s.b.do(ctx, "POST", s.path("/window/rect"), rect, nil); err != nil {
		return fmt.Errorf("set window rect: %w", err)
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.b.do(ctx, "POST", s.path("/url"), map[string]string{"url": url}, nil); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *session) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	return s.find(ctx, s.path("/element"), selector, nil)
}

func (s *session) FindChild(ctx context.Context, parent browser.Element, selector string) (browser.Element, error) {
	return s.find(ctx, s.path("/element/"+escape(parent.ID)+"/element"), selector, &parent)
}

func (s *session) find(ctx context.Context, path, selector string, parent *browser.Element) (browser.Element, error) {
	body := map[string]string{"using": "css selector", "value": selector}
	var ref map[string]string
	if err := s.b.do(ctx, "POST", path, body, &ref); err != nil {
		return browser.Element{}, fmt.Errorf("find %q: %w", selector, err)
	}
	id := ref[elementKey]
	if id == "" {
		return browser.Element{}, fmt.Errorf("find %q: %w", selector, browser.ErrNoSuchElement)
	}
	return browser.Element{ID: id, Selector: selector, Parent: parent}, nil
}

func (s *session) Click(ctx context.Context, el browser.Element) error {
	if err := s.b.do(ctx, "POST", s.path("/element/"+escape(el.ID)+"/click"), struct{}{}, nil); err != nil {
		return fmt.Errorf("click %q: %w", el.Selector, err)
	}
	return nil
}

func (s *session) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	return s.execute(ctx, "/execute/sync", script, args)
}

func (s *session) ExecuteAsyncScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	return s.execute(ctx, "/execute/async", script, args)
}

func (s *session) execute(ctx context.Context, endpoint, script string, args []any) (json.RawMessage, error) {
	wire := make([]any, len(args))
	for i, a := range args {
		wire[i] = scriptArg(a)
	}
	body := map[string]any{"script": script, "args": wire}
	var out json.RawMessage
	if err := s.b.do(ctx, "POST", s.path(endpoint), body, &out); err != nil {
		return nil, fmt.Errorf("execute script: %w", err)
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return out, nil
}

// scriptArg turns element handles into W3C element references.
func scriptArg(a any) any {
	switch v := a.(type) {
	case browser.Element:
		return map[string]string{elementKey: v.ID}
	case *browser.Element:
		return map[string]string{elementKey: v.ID}
	default:
		return a
	}
}

func (s *session) ElementScreenshot(ctx context.Context, el browser.Element) (string, error) {
	var data string
	if err := s.b.do(ctx, "GET", s.path("/element/"+escape(el.ID)+"/screenshot"), nil, &data); err != nil {
		return "", fmt.Errorf("screenshot %q: %w", el.Selector, err)
	}
	return data, nil
}

func (s *session) Close(ctx context.Context) error {
	if err := s.b.do(ctx, "DELETE", s.path(""), nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", s.id, err)
	}
	return nil
}
