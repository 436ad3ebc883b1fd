package browser

import (
	"context"
	"sync/atomic"
	"time"

	"dynshot/internal/infra/logging"
	"dynshot/internal/infra/metrics"
)

// ManagerOptions configure session acquisition.
type ManagerOptions struct {
	Capabilities  Capabilities
	Window        Rect
	ReadyInterval time.Duration
	// Sleep waits between readiness polls; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Manager owns the readiness handshake and the creation of sessions on
// one backend. It holds no session itself: every Acquire hands a fresh
// session to the caller, who must close it.
type Manager struct {
	backend  Backend
	caps     Capabilities
	window   Rect
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	polls    atomic.Int64
	acquired atomic.Int64
	closed   atomic.Int64
	open     atomic.Int64
	lastErr  atomic.Value // string
}

// NewManager creates a Manager backed by the provided backend.
func NewManager(backend Backend, opts ManagerOptions) *Manager {
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Manager{
		backend:  backend,
		caps:     opts.Capabilities,
		window:   opts.Window,
		interval: opts.ReadyInterval,
		sleep:    opts.Sleep,
	}
}

// Acquire blocks until the backend is ready and a sized session exists.
// Failures are logged and retried at a fixed interval; the only error
// returned is ctx's, once it is done.
func (m *Manager) Acquire(ctx context.Context) (Session, error) {
	for {
		if err := m.WaitReady(ctx); err != nil {
			return nil, err
		}

		sess, err := m.backend.NewSession(ctx, m.caps)
		if err != nil {
			m.noteFailure("create session failed, retrying", err)
			if err := m.sleep(ctx, m.interval); err != nil {
				return nil, err
			}
			continue
		}

		if err := sess.SetWindowRect(ctx, m.window); err != nil {
			m.noteFailure("resize session window failed, retrying", err, "session_id", sess.ID())
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = sess.Close(closeCtx)
			cancel()
			if err := m.sleep(ctx, m.interval); err != nil {
				return nil, err
			}
			continue
		}

		m.acquired.Add(1)
		m.open.Add(1)
		metrics.SessionsOpen.Inc()
		logging.Info("browser session acquired", "session_id", sess.ID(), "browser", m.caps.BrowserName)
		return &managedSession{Session: sess, m: m}, nil
	}
}

// WaitReady polls the backend status until it reports ready.
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.polls.Add(1)
		st, err := m.backend.Status(ctx)
		switch {
		case err != nil:
			metrics.ReadinessPolls.WithLabelValues("error").Inc()
			m.noteFailure("connect to automation backend failed, retry in "+m.interval.String(), err)
		case !st.Ready:
			metrics.ReadinessPolls.WithLabelValues("not_ready").Inc()
			m.lastErr.Store(st.Message)
			logging.Warn("automation backend not ready, retry in "+m.interval.String(), "reason", st.Message)
		default:
			metrics.ReadinessPolls.WithLabelValues("ready").Inc()
			return nil
		}
		if err := m.sleep(ctx, m.interval); err != nil {
			return err
		}
	}
}

func (m *Manager) noteFailure(msg string, err error, kv ...any) {
	m.lastErr.Store(err.Error())
	logging.Warn(msg, append([]any{"error", err}, kv...)...)
}

// ManagerStats is a point-in-time view of session activity.
type ManagerStats struct {
	ReadyPolls       int64  `json:"ready_polls"`
	SessionsAcquired int64  `json:"sessions_acquired"`
	SessionsClosed   int64  `json:"sessions_closed"`
	SessionsOpen     int64  `json:"sessions_open"`
	LastError        string `json:"last_error,omitempty"`
}

func (m *Manager) Stats() ManagerStats {
	last, _ := m.lastErr.Load().(string)
	return ManagerStats{
		ReadyPolls:       m.polls.Load(),
		SessionsAcquired: m.acquired.Load(),
		SessionsClosed:   m.closed.Load(),
		SessionsOpen:     m.open.Load(),
		LastError:        last,
	}
}

// managedSession makes Close idempotent and keeps the manager's counters.
type managedSession struct {
	Session
	m      *Manager
	closed atomic.Bool
}

func (s *managedSession) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	s.m.closed.Add(1)
	s.m.open.Add(-1)
	metrics.SessionsOpen.Dec()
	return s.Session.Close(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
