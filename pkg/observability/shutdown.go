package observability

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager runs registered cleanup functions, in reverse registration
// order, when the process receives SIGINT or SIGTERM.
type ShutdownManager struct {
	logger  *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdownFunc
}

type namedShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

func NewShutdownManager(logger *slog.Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a named cleanup step. Servers register before their
// dependencies so in-flight requests drain before connections close.
func (m *ShutdownManager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedShutdownFunc{name: name, fn: fn})
}

// Wait blocks until a termination signal arrives, then runs every cleanup
// step under a shared deadline.
func (m *ShutdownManager) Wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	m.logger.Info("shutting down", "signal", received.String())

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	funcs := make([]namedShutdownFunc, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		step := funcs[i]
		if err := step.fn(ctx); err != nil {
			m.logger.Error("shutdown step failed", "step", step.name, "error", err)
		} else {
			m.logger.Info("shutdown step complete", "step", step.name)
		}
	}
}
