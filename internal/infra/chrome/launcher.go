// Package chrome runs a local headless Chrome through chromedp and exposes
// it as a browser.Backend. One browser process is kept; each session is a
// fresh tab.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chromedp/chromedp"

	"dynshot/internal/browser"
	"dynshot/internal/infra/logging"
)

// Options configure the local browser.
type Options struct {
	ExecPath    string
	NoSandbox   bool
	UserDataDir string
}

// Launcher owns the browser process.
type Launcher struct {
	opts Options

	mu            sync.Mutex
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	profileDir    string
	started       bool
	closed        bool

	tabs     atomic.Int64
	restarts atomic.Int64
}

// NewLauncher prepares the allocator. The browser itself starts with the
// first session.
func NewLauncher(opts Options) (*Launcher, error) {
	l := &Launcher{opts: opts}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

func createProfileDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "dynshot-chrome-*")
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(l.profileDir),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// init must be called with mu held or before the launcher is shared.
func (l *Launcher) init() error {
	dir, err := createProfileDir(l.opts.UserDataDir)
	if err != nil {
		return fmt.Errorf("create chrome profile dir: %w", err)
	}
	l.profileDir = dir
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// chromedp blocks on a second cancel of a context whose browser never
	// started.
	l.allocCtx, l.cancelAlloc = allocCtx, sync.OnceFunc(cancelAlloc)
	l.browserCtx, l.cancelBrowser = browserCtx, sync.OnceFunc(cancelBrowser)
	l.started = false
	return nil
}

func (l *Launcher) teardown() {
	if l.cancelBrowser != nil {
		l.cancelBrowser()
	}
	if l.cancelAlloc != nil {
		l.cancelAlloc()
	}
	if l.profileDir != "" {
		_ = os.RemoveAll(l.profileDir)
	}
	l.cancelBrowser, l.cancelAlloc = nil, nil
	l.browserCtx, l.allocCtx = nil, nil
	l.profileDir = ""
	l.started = false
}

// Restart replaces the browser process and its profile directory.
func (l *Launcher) Restart() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restartLocked()
}

func (l *Launcher) restartLocked() error {
	if l.closed {
		return errors.New("chrome launcher is closed")
	}
	l.teardown()
	if err := l.init(); err != nil {
		return err
	}
	l.restarts.Add(1)
	logging.Warn("chrome browser restarted", "restarts", l.restarts.Load())
	return nil
}

// Status reports ready while the browser process is usable. A browser that
// died is restarted here, so the next acquisition gets a fresh one.
func (l *Launcher) Status(ctx context.Context) (browser.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return browser.Status{}, fmt.Errorf("chrome: %w", browser.ErrUnavailable)
	}
	if l.started && l.browserCtx.Err() != nil {
		if err := l.restartLocked(); err != nil {
			return browser.Status{}, err
		}
		return browser.Status{Ready: false, Message: "browser restarted"}, nil
	}
	return browser.Status{Ready: true, Message: "local chrome"}, nil
}

// NewSession opens a tab. The caller's capabilities are ignored: the local
// backend is always Chrome.
func (l *Launcher) NewSession(ctx context.Context, _ browser.Capabilities) (browser.Session, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("chrome: %w", browser.ErrUnavailable)
	}
	if !l.started {
		// The first Run on the browser context launches the process; its
		// lifetime is bound to browserCtx, not to the caller.
		if err := chromedp.Run(l.browserCtx); err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
		l.started = true
	}
	browserCtx := l.browserCtx
	l.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		if browser.IsSessionInterrupted(err) {
			_ = l.Restart()
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	n := l.tabs.Add(1)
	return &tab{id: fmt.Sprintf("tab-%d", n), ctx: tabCtx, cancel: cancel}, nil
}

// Report exposes launcher counters for the stats endpoint.
func (l *Launcher) Report() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"backend":     "chrome",
		"running":     !l.closed && l.started && l.browserCtx != nil && l.browserCtx.Err() == nil,
		"closed":      l.closed,
		"tabs_opened": l.tabs.Load(),
		"restarts":    l.restarts.Load(),
		"profile_dir": l.profileDir,
	}
}

// Close stops the browser. It is safe to call more than once.
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.teardown()
}
