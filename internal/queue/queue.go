// Package queue serializes render jobs: one worker takes jobs from a
// bounded FIFO and runs them strictly one at a time, in arrival order.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"dynshot/internal/domain"
	"dynshot/internal/infra/logging"
	"dynshot/internal/infra/metrics"
)

const defaultMaxDepth = 64

// Renderer runs one job. It reports failures through the Result.
type Renderer interface {
	Render(ctx context.Context, id domain.Identifier) domain.Result
}

type Options struct {
	// MaxDepth bounds the jobs waiting behind the running one.
	MaxDepth int
}

type job struct {
	id       string
	dynamic  domain.Identifier
	enqueued time.Time
	done     chan domain.Result
}

// Queue owns the single worker goroutine.
type Queue struct {
	renderer Renderer
	jobs     chan *job
	maxDepth int

	mu     sync.Mutex
	closed bool

	// ctx is the worker's lifetime; it is handed to the renderer so that
	// waiting for the backend stops at shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	running   atomic.Bool
	current   atomic.Value // domain.Identifier
	processed atomic.Int64
	rejected  atomic.Int64
}

// New starts the worker.
func New(r Renderer, opts Options) *Queue {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		renderer: r,
		jobs:     make(chan *job, opts.MaxDepth),
		maxDepth: opts.MaxDepth,
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue admits a job and returns the channel its result is delivered on.
// A full queue rejects with domain.ErrQueueFull, a closed one with
// domain.ErrShuttingDown.
func (q *Queue) Enqueue(id domain.Identifier) (<-chan domain.Result, error) {
	j := &job{
		id:       xid.New().String(),
		dynamic:  id,
		enqueued: time.Now(),
		done:     make(chan domain.Result, 1),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.reject(j, domain.ErrShuttingDown)
		return nil, domain.ErrShuttingDown
	}
	select {
	case q.jobs <- j:
	default:
		q.reject(j, domain.ErrQueueFull)
		return nil, domain.ErrQueueFull
	}
	metrics.QueueDepth.Set(float64(len(q.jobs)))
	logging.Info("render job queued", "job_id", j.id, "dynamic_id", id, "pending", len(q.jobs))
	return j.done, nil
}

func (q *Queue) reject(j *job, err error) {
	q.rejected.Add(1)
	metrics.JobsRejected.Inc()
	logging.Warn("render job rejected", "job_id", j.id, "dynamic_id", j.dynamic, "error", err)
}

// Submit enqueues id and waits for its result. If ctx ends first the job
// is not withdrawn: it still runs and its result is discarded.
func (q *Queue) Submit(ctx context.Context, id domain.Identifier) (domain.Result, error) {
	ch, err := q.Enqueue(id)
	if err != nil {
		return domain.Failure(err), err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		logging.Warn("caller stopped waiting for render job", "dynamic_id", id, "error", ctx.Err())
		return domain.Failure(ctx.Err()), ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		default:
		}
		select {
		case <-q.stop:
			q.drain()
			return
		case j := <-q.jobs:
			metrics.QueueDepth.Set(float64(len(q.jobs)))
			q.process(j)
		}
	}
}

func (q *Queue) process(j *job) {
	q.running.Store(true)
	q.current.Store(j.dynamic)
	start := time.Now()
	res := q.renderSafely(j)
	elapsed := time.Since(start)
	q.running.Store(false)
	q.current.Store(domain.Identifier(""))
	q.processed.Add(1)

	metrics.JobsCompleted.WithLabelValues(string(res.Code)).Inc()
	metrics.JobDuration.Observe(elapsed.Seconds())
	logging.Info("render job finished",
		"job_id", j.id,
		"dynamic_id", j.dynamic,
		"code", res.Code,
		"wait_ms", start.Sub(j.enqueued).Milliseconds(),
		"duration_ms", elapsed.Milliseconds(),
	)
	j.done <- res
}

func (q *Queue) renderSafely(j *job) (res domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("render job panicked", "job_id", j.id, "dynamic_id", j.dynamic, "panic", fmt.Sprint(r))
			res = domain.Failure(fmt.Errorf("render panicked: %v", r))
		}
	}()
	return q.renderer.Render(q.ctx, j.dynamic)
}

// drain fails every job still waiting.
func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			j.done <- domain.Failure(domain.ErrShuttingDown)
			metrics.JobsCompleted.WithLabelValues(string(domain.CodeShuttingDown)).Inc()
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

// Close stops admission, fails pending jobs with shutting_down and waits
// for the running job. When ctx ends first the running job is cancelled
// and ctx's error is returned once the worker has exited.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending   int    `json:"pending"`
	MaxDepth  int    `json:"max_depth"`
	Running   bool   `json:"running"`
	Current   string `json:"current,omitempty"`
	Processed int64  `json:"processed"`
	Rejected  int64  `json:"rejected"`
	Closed    bool   `json:"closed"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	cur, _ := q.current.Load().(domain.Identifier)
	return Stats{
		Pending:   len(q.jobs),
		MaxDepth:  q.maxDepth,
		Running:   q.running.Load(),
		Current:   string(cur),
		Processed: q.processed.Load(),
		Rejected:  q.rejected.Load(),
		Closed:    closed,
	}
}
