package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo runs fn in a goroutine with its own timeout, recovering panics and
// logging failures instead of crashing. Use it for fire-and-forget work that
// outlives the request, detached from the request context on purpose: the
// work should finish even when the client disconnects.
func SafeGo(logger *slog.Logger, timeout time.Duration, task string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked",
					"task", task,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		if err := fn(ctx); err != nil {
			logger.Error("background task failed", "task", task, "error", err)
		}
	}()
}

// Pool is a bounded worker pool. Submit blocks while all workers are busy
// and the queue is full; tasks submitted after Shutdown are rejected.
// Shutdown drains queued tasks before returning.
type Pool struct {
	logger   *slog.Logger
	task     string
	timeout  time.Duration
	work     chan func(context.Context) error
	done     chan struct{}
	cancel   context.CancelFunc
	ctx      context.Context
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming submitted tasks.
func NewPool(ctx context.Context, logger *slog.Logger, workers int, task string, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		logger:  logger,
		task:    task,
		timeout: timeout,
		work:    make(chan func(context.Context) error, workers*2),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.worker()
			}()
		}
		wg.Wait()
		close(p.done)
	}()

	return p
}

// Submit queues a task, blocking while every worker is busy and the queue
// is full. It fails once the pool is shut down or its context is cancelled.
// The lock is held across the send so Shutdown cannot close the queue out
// from under a blocked Submit.
func (p *Pool) Submit(fn func(context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pool %q is shut down", p.task)
	}

	select {
	case p.work <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("pool %q is shut down", p.task)
	}
}

// Shutdown stops accepting tasks and waits up to grace for in-flight work.
func (p *Pool) Shutdown(grace time.Duration) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.work)
		select {
		case <-p.done:
		case <-time.After(grace):
			p.logger.Warn("pool shutdown timed out", "task", p.task)
		}
		p.cancel()
	})
}

func (p *Pool) worker() {
	for fn := range p.work {
		p.run(fn)
	}
}

func (p *Pool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked",
				"task", p.task,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		p.logger.Error("pool task failed", "task", p.task, "error", err)
	}
}
