// Package finder runs time-range searches on a fixed pool of workers and
// appends what it finds to event store lists.
package finder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/harmonia/internal/observability"
)

// ErrPoolClosed is returned by Submit once the pool has stopped.
var ErrPoolClosed = errors.New("finder: pool closed")

// Task is one schedulable unit of work.
type Task interface {
	Kind() string
	Run(ctx context.Context) error
}

// Batch tracks a group of submitted tasks.
type Batch struct {
	remaining atomic.Int64
	done      chan struct{}
	mu        sync.Mutex
	errs      []error
}

func newBatch(n int) *Batch {
	b := &Batch{done: make(chan struct{})}
	b.remaining.Store(int64(n))
	if n == 0 {
		close(b.done)
	}
	return b
}

func (b *Batch) finish(err error) {
	if err != nil {
		b.mu.Lock()
		b.errs = append(b.errs, err)
		b.mu.Unlock()
	}
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

// Done is closed when every task of the batch has finished.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Err joins the errors of failed tasks. Only meaningful after Done.
func (b *Batch) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.errs...)
}

// Wait blocks until the batch finishes or ctx ends.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	task  Task
	batch *Batch
}

// Pool executes tasks on a fixed number of workers. Submit never blocks on
// busy workers: a dispatcher goroutine owns an unbounded queue.
type Pool struct {
	workers int
	logger  *slog.Logger

	in      chan job
	out     chan job
	stopped chan struct{}
	pending atomic.Int64
}

// NewPool creates a pool with n workers. Call Run to start it.
func NewPool(n int, logger *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: n,
		logger:  logger,
		in:      make(chan job),
		out:     make(chan job),
		stopped: make(chan struct{}),
	}
}

// Run dispatches and executes tasks until ctx is cancelled. Tasks still
// queued at that point are abandoned.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.stopped)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.dispatch(ctx)
		return nil
	})
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
	p.logger.Info("finder pool started", slog.Int("workers", p.workers))
	err := g.Wait()
	p.logger.Info("finder pool stopped")
	return err
}

func (p *Pool) dispatch(ctx context.Context) {
	var queue []job
	for {
		var out chan job
		var next job
		if len(queue) > 0 {
			out = p.out
			next = queue[0]
		}
		select {
		case j := <-p.in:
			queue = append(queue, j)
		case out <- next:
			queue[0] = job{}
			queue = queue[1:]
		case <-ctx.Done():
			for _, j := range queue {
				p.settle(j, ctx.Err())
			}
			return
		}
	}
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case j := <-p.out:
			p.settle(j, p.execute(ctx, j.task))
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) execute(ctx context.Context, t Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finder: %s task panicked: %v", t.Kind(), r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			p.logger.Error("finder task failed", slog.String("kind", t.Kind()), slog.Any("error", err))
		}
		observability.SearchChunksTotal.WithLabelValues(t.Kind(), result).Inc()
		observability.SearchChunkDuration.WithLabelValues(t.Kind()).Observe(time.Since(start).Seconds())
	}()
	return t.Run(ctx)
}

func (p *Pool) settle(j job, err error) {
	observability.PoolPending.Set(float64(p.pending.Add(-1)))
	j.batch.finish(err)
}

// Submit queues tasks and returns the batch tracking them.
func (p *Pool) Submit(tasks ...Task) (*Batch, error) {
	b := newBatch(len(tasks))
	for i, t := range tasks {
		observability.PoolPending.Set(float64(p.pending.Add(1)))
		select {
		case p.in <- job{task: t, batch: b}:
		case <-p.stopped:
			// only this task was counted as pending
			p.settle(job{batch: b}, ErrPoolClosed)
			for range tasks[i+1:] {
				b.finish(ErrPoolClosed)
			}
			return b, ErrPoolClosed
		}
	}
	return b, nil
}

// Pending is the number of submitted tasks not yet finished.
func (p *Pool) Pending() int { return int(p.pending.Load()) }

// Idle reports whether nothing is queued or running.
func (p *Pool) Idle() bool { return p.pending.Load() == 0 }

// WaitIdle polls every interval until the pool is idle or ctx ends.
func (p *Pool) WaitIdle(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for !p.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
