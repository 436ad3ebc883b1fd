package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynshot/internal/browser"
	"dynshot/internal/browser/browsertest"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return nil
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

func newManager(b browser.Backend, rec *sleepRecorder) *browser.Manager {
	return browser.NewManager(b, browser.ManagerOptions{
		Capabilities:  browser.Capabilities{BrowserName: "firefox"},
		Window:        browser.Rect{X: 0, Y: 0, Width: 1024, Height: 768},
		ReadyInterval: time.Second,
		Sleep:         rec.sleep,
	})
}

func TestAcquire_PollsUntilReady(t *testing.T) {
	for _, notReady := range []int{0, 1, 4} {
		backend := &browsertest.Backend{NotReady: notReady}
		rec := &sleepRecorder{}
		m := newManager(backend, rec)

		sess, err := m.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, sess)

		assert.Equal(t, notReady+1, backend.Polls(), "polls for %d not-ready reports", notReady)
		assert.Equal(t, notReady, rec.count())
		for _, d := range rec.waits {
			assert.Equal(t, time.Second, d)
		}
		require.Len(t, backend.Sessions(), 1)
		assert.Equal(t, []string{"set_window_rect"}, backend.Sessions()[0].Ops())
		assert.Equal(t, browsertest.Call{Op: "set_window_rect", Arg: "0,0,1024,768"}, backend.Sessions()[0].Calls()[0])
	}
}

func TestAcquire_NoSessionBeforeReadiness(t *testing.T) {
	backend := &browsertest.Backend{StatusErr: errors.New("connection refused")}
	ctx, cancel := context.WithCancel(context.Background())

	var sleeps int
	m := browser.NewManager(backend, browser.ManagerOptions{
		ReadyInterval: time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			if sleeps == 3 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	})

	sess, err := m.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sess)
	assert.Equal(t, 3, backend.Polls())
	assert.Empty(t, backend.Sessions())
	assert.Contains(t, m.Stats().LastError, "connection refused")
}

func TestAcquire_RetriesWhenResizeFails(t *testing.T) {
	backend := &browsertest.Backend{
		NewSessionFunc: func(n int) (*browsertest.Session, error) {
			s := &browsertest.Session{}
			if n == 1 {
				s.OnSetWindowRect = func(context.Context, browser.Rect) error { return errors.New("no such window") }
			}
			return s, nil
		},
	}
	rec := &sleepRecorder{}
	m := newManager(backend, rec)

	sess, err := m.Acquire(context.Background())
	require.NoError(t, err)

	sessions := backend.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, 1, sessions[0].Closes(), "half-built session must be closed")
	assert.Equal(t, "session-2", sess.ID())
	assert.Equal(t, 2, backend.Polls())
}

func TestManagedSession_CloseIsIdempotent(t *testing.T) {
	backend := &browsertest.Backend{}
	m := newManager(backend, &sleepRecorder{})

	sess, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Close(context.Background()))
	assert.ErrorIs(t, sess.Close(context.Background()), browser.ErrSessionClosed)

	assert.Equal(t, 1, backend.Sessions()[0].Closes())
	st := m.Stats()
	assert.Equal(t, int64(1), st.SessionsAcquired)
	assert.Equal(t, int64(1), st.SessionsClosed)
	assert.Equal(t, int64(0), st.SessionsOpen)
}

func TestDefaultSleepHonoursContext(t *testing.T) {
	backend := &browsertest.Backend{NotReady: 100}
	m := browser.NewManager(backend, browser.ManagerOptions{ReadyInterval: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, backend.Polls())
}
