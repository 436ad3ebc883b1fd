package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"dynshot/internal/browser"
)

// tab is a browser.Session backed by one Chrome target. Element handles
// carry CSS paths; the DOM is queried again on every use.
type tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *tab) ID() string { return t.id }

// run executes actions on the tab, bounded by ctx.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(t.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (t *tab) SetWindowRect(ctx context.Context, rect browser.Rect) error {
	return t.run(ctx, chromedp.EmulateViewport(int64(rect.Width), int64(rect.Height)))
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (t *tab) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	return t.find(ctx, browser.Element{Selector: selector})
}

func (t *tab) FindChild(ctx context.Context, parent browser.Element, selector string) (browser.Element, error) {
	p := parent
	return t.find(ctx, browser.Element{Selector: selector, Parent: &p})
}

func (t *tab) find(ctx context.Context, el browser.Element) (browser.Element, error) {
	var found bool
	if err := t.run(ctx, chromedp.Evaluate(elementExpr(el)+" !== null", &found)); err != nil {
		return browser.Element{}, fmt.Errorf("find %q: %w", el.Selector, err)
	}
	if !found {
		return browser.Element{}, fmt.Errorf("find %q: %w", el.Selector, browser.ErrNoSuchElement)
	}
	el.ID = cssPath(el)
	return el, nil
}

func (t *tab) Click(ctx context.Context, el browser.Element) error {
	var ok bool
	expr := fmt.Sprintf("(function(e){ if (!e) return false; e.click(); return true; })(%s)", elementExpr(el))
	if err := t.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return fmt.Errorf("click %q: %w", el.Selector, err)
	}
	if !ok {
		return fmt.Errorf("click %q: %w", el.Selector, browser.ErrNoSuchElement)
	}
	return nil
}

func (t *tab) ExecuteScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	argList, err := scriptArgs(args)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("(function(){ var r = (function(){%s}).apply(null, %s); return r === undefined ? null : r; })()", script, argList)
	var raw []byte
	if err := t.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, fmt.Errorf("execute script: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (t *tab) ExecuteAsyncScript(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	argList, err := scriptArgs(args)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(`new Promise(function(resolve){
	var args = %s;
	args.push(function(v){ resolve(v === undefined ? null : v); });
	(function(){%s}).apply(null, args);
})`, argList, script)
	var raw []byte
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := t.run(ctx, chromedp.Evaluate(expr, &raw, awaitPromise)); err != nil {
		return nil, fmt.Errorf("execute async script: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (t *tab) ElementScreenshot(ctx context.Context, el browser.Element) (string, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.Screenshot(cssPath(el), &buf, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("screenshot %q: %w", el.Selector, err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Close closes the tab and waits for the target to go away.
func (t *tab) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(t.ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}

// elementExpr is a JS expression evaluating to the element or null.
func elementExpr(el browser.Element) string {
	sel, _ := json.Marshal(el.Selector)
	if el.Parent == nil {
		return fmt.Sprintf("document.querySelector(%s)", sel)
	}
	return fmt.Sprintf("(function(p){ return p ? p.querySelector(%s) : null; })(%s)", sel, elementExpr(*el.Parent))
}

// cssPath flattens a nested element into one descendant selector.
func cssPath(el browser.Element) string {
	if el.Parent == nil {
		return el.Selector
	}
	return strings.TrimSpace(cssPath(*el.Parent) + " " + el.Selector)
}

// scriptArgs renders args as a JS array literal, with elements resolved
// in the page.
func scriptArgs(args []any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case browser.Element:
			parts[i] = elementExpr(v)
		case *browser.Element:
			parts[i] = elementExpr(*v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode script argument %d: %w", i, err)
			}
			parts[i] = string(b)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
