package finder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcTask func(ctx context.Context) error

func (f funcTask) Kind() string                  { return "test" }
func (f funcTask) Run(ctx context.Context) error { return f(ctx) }

func startPool(t *testing.T, n int) (*Pool, func()) {
	t.Helper()
	p := NewPool(n, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return p, func() {
		cancel()
		<-done
	}
}

func TestPool_RunsBatch(t *testing.T) {
	p, stop := startPool(t, 3)
	defer stop()

	var ran atomic.Int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = funcTask(func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	b, err := p.Submit(tasks...)
	require.NoError(t, err)
	require.NoError(t, b.Wait(context.Background()))
	assert.EqualValues(t, 20, ran.Load())
	assert.True(t, p.Idle())
}

func TestPool_CollectsErrorsAndPanics(t *testing.T) {
	p, stop := startPool(t, 2)
	defer stop()

	boom := errors.New("boom")
	b, err := p.Submit(
		funcTask(func(context.Context) error { return boom }),
		funcTask(func(context.Context) error { panic("bad chunk") }),
		funcTask(func(context.Context) error { return nil }),
	)
	require.NoError(t, err)
	<-b.Done()
	assert.ErrorIs(t, b.Err(), boom)
	assert.ErrorContains(t, b.Err(), "panicked")
}

func TestPool_WaitIdle(t *testing.T) {
	p, stop := startPool(t, 1)
	defer stop()

	release := make(chan struct{})
	_, err := p.Submit(
		funcTask(func(context.Context) error { <-release; return nil }),
		funcTask(func(context.Context) error { return nil }),
	)
	require.NoError(t, err)
	assert.False(t, p.Idle())
	assert.Equal(t, 2, p.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, p.WaitIdle(ctx, 5*time.Millisecond), context.DeadlineExceeded)
	cancel()

	close(release)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitIdle(ctx, 5*time.Millisecond))
	assert.Zero(t, p.Pending())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p, stop := startPool(t, 1)
	stop()
	noop := funcTask(func(context.Context) error { return nil })
	b, err := p.Submit(noop)
	assert.ErrorIs(t, err, ErrPoolClosed)
	<-b.Done()
	assert.True(t, p.Idle())

	b, err = p.Submit(noop, noop, noop)
	assert.ErrorIs(t, err, ErrPoolClosed)
	<-b.Done()
	assert.ErrorIs(t, b.Err(), ErrPoolClosed)
	assert.Zero(t, p.Pending())
	assert.True(t, p.Idle())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.WaitIdle(ctx, 5*time.Millisecond))
}

func TestPool_EmptyBatch(t *testing.T) {
	p := NewPool(1, nil)
	b, err := p.Submit()
	require.NoError(t, err)
	select {
	case <-b.Done():
	default:
		t.Fatal("empty batch should be done")
	}
}
