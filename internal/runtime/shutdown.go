// Package runtime provides graceful shutdown handling for aegis processes.
package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arlen/aegis/internal/logging"
)

// ShutdownFunc is a cleanup function invoked during shutdown. It must
// return once ctx is done even if cleanup is incomplete.
type ShutdownFunc func(ctx context.Context) error

// DefaultShutdownTimeout bounds the whole cleanup phase.
const DefaultShutdownTimeout = 30 * time.Second

type handler struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs registered cleanup handlers exactly once, in
// reverse registration order, when the process shuts down.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []handler

	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	log     *logging.Logger
}

// NewShutdownManager creates a manager with the given cleanup timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("shutdown"),
	}
}

var (
	globalManager *ShutdownManager
	globalOnce    sync.Once
)

// Global returns the process-wide shutdown manager.
func Global() *ShutdownManager {
	globalOnce.Do(func() {
		globalManager = NewShutdownManager(DefaultShutdownTimeout)
	})
	return globalManager
}

// Register adds a cleanup handler. Handlers run in reverse
// registration order: last registered, first cleaned up.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler{name: name, fn: fn})
}

// RegisterSimple adds a handler without an error return.
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Context is cancelled the moment shutdown begins. Long-running work
// should derive from it.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed once all handlers have finished or timed out.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM.
// Non-blocking; call once at startup.
func (m *ShutdownManager) ListenForSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logging.SafeGo("shutdown", func() {
		sig := <-sigCh
		m.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		m.Shutdown()
	})
}

// Shutdown cancels the manager context and runs every handler.
// Subsequent calls are no-ops.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(m.run)
}

// WaitForShutdown blocks until shutdown has completed.
func (m *ShutdownManager) WaitForShutdown() {
	<-m.done
}

func (m *ShutdownManager) run() {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	failures := 0
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		start := time.Now()
		err := h.fn(ctx)
		if err != nil {
			failures++
			m.log.Warn("handler_failed", map[string]interface{}{
				"handler":  h.name,
				"duration": time.Since(start).String(),
			}, err)
		} else {
			m.log.Debug("handler_done", map[string]interface{}{
				"handler":  h.name,
				"duration": time.Since(start).String(),
			})
		}
		if ctx.Err() != nil && i > 0 {
			m.log.Warn("shutdown_timeout", map[string]interface{}{
				"remaining": i,
			}, ctx.Err())
			return
		}
	}
	m.log.Info("shutdown_complete", map[string]interface{}{
		"handlers": len(handlers),
		"failures": failures,
	})
}
