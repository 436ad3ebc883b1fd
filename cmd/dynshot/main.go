package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"dynshot/internal/browser"
	"dynshot/internal/config"
	"dynshot/internal/http/server"
	"dynshot/internal/infra/chrome"
	"dynshot/internal/infra/logging"
	"dynshot/internal/infra/ratelimit"
	"dynshot/internal/infra/tracing"
	"dynshot/internal/infra/webdriver"
	"dynshot/internal/queue"
	"dynshot/internal/render"
	"dynshot/internal/rpc"
)

func main() {
	cfg := config.Load()
	// Allow common container env var to override chrome_path.
	if cfg.Browser.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Browser.ChromePath = v
		}
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	svc, err := build(cfg)
	if err != nil {
		logging.Error("Startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, svc); err != nil {
		logging.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// services is the wired process.
type services struct {
	closeBackend func()
	manager      *browser.Manager
	queue        *queue.Queue
	grpc         *rpc.Server
	app          *fiber.App
	tracer       *tracing.Provider
}

func build(cfg config.Config) (*services, error) {
	tracer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	backend, closeBackend, err := newBackend(cfg.Browser)
	if err != nil {
		return nil, err
	}

	w := cfg.Browser.Window
	manager := browser.NewManager(backend, browser.ManagerOptions{
		Capabilities:  browser.Capabilities{BrowserName: cfg.Browser.BrowserName},
		Window:        browser.Rect{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height},
		ReadyInterval: cfg.Browser.ReadyInterval,
	})
	pipeline := render.New(manager, render.Options{
		Site:         cfg.Site,
		Render:       cfg.Render,
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: cfg.Browser.PollInterval,
	})
	q := queue.New(pipeline, queue.Options{MaxDepth: cfg.Queue.MaxDepth})

	var store fiber.Storage
	if cfg.RateLimiter.Enabled {
		store = ratelimit.NewStore(cfg.RateLimiter)
	}
	var reporter browser.Reporter
	if r, ok := backend.(browser.Reporter); ok {
		reporter = r
	}
	app := server.New(server.Deps{
		Config:  cfg,
		Queue:   q,
		Manager: manager,
		Backend: reporter,
		Store:   store,
	})

	logging.Info("Service configured",
		"browser_mode", cfg.Browser.Mode,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPHost+cfg.Server.HTTPPort,
		"max_depth", cfg.Queue.MaxDepth,
	)
	return &services{
		closeBackend: closeBackend,
		manager:      manager,
		queue:        q,
		grpc:         rpc.NewServer(rpc.NewService(q)),
		app:          app,
		tracer:       tracer,
	}, nil
}

// newBackend selects the automation backend for the deployment mode.
func newBackend(cfg config.BrowserConfig) (browser.Backend, func(), error) {
	switch cfg.Mode {
	case config.ModeLocal:
		l, err := chrome.NewLauncher(chrome.Options{
			ExecPath:    cfg.ChromePath,
			NoSandbox:   cfg.ChromeNoSandbox,
			UserDataDir: cfg.UserDataDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("local chrome: %w", err)
		}
		return l, l.Close, nil
	case config.ModeRemote:
		b := webdriver.New(webdriver.Options{
			BaseURL:        cfg.RemoteURL,
			RequestTimeout: cfg.RequestTimeout,
		})
		return b, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
	}
}

// run serves gRPC and HTTP until ctx ends or a listener fails, then shuts
// everything down.
func run(ctx context.Context, cfg config.Config, s *services) error {
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		s.shutdown(cfg)
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.grpc.Serve(lis)
	})
	g.Go(func() error {
		if err := s.app.Listen(cfg.Server.HTTPHost + cfg.Server.HTTPPort); err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Warn("Shutdown signal received, closing server...")
		s.shutdown(cfg)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		logging.Info("Server stopped cleanly")
	}
	return err
}

// shutdown drains the queue first, so in-flight calls complete before the
// servers stop waiting for them.
func (s *services) shutdown(cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.queue.Close(ctx); err != nil {
		logging.Warn("Render queue forced to stop", "error", err)
	}
	s.grpc.Shutdown(ctx)
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		logging.Warn("Trace provider shutdown failed", "error", err)
	}
	s.closeBackend()

	st := s.manager.Stats()
	logging.Info("Browser sessions released",
		"acquired", st.SessionsAcquired,
		"closed", st.SessionsClosed,
		"open", st.SessionsOpen,
	)
}
