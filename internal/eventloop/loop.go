// Package eventloop provides a single-consumer event loop that hosts child
// process watches.
//
// Work is posted to a Loop as closures and executed one at a time, in order,
// on the goroutine that calls Run. Child watches are reaped by a dedicated
// goroutine each, which posts the exit notification back onto the Loop so
// that exit handlers never run concurrently with each other or with other
// Loop tasks.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrLoopRunning = errors.New("event loop already running")

// Loop is a FIFO queue of tasks drained by a single goroutine.
type Loop struct {
	// NOTE: The queue is unbounded so that Post never blocks, in particular when
	// a task running on the Loop posts more work.
	queue  []func()
	mu     sync.Mutex
	notify chan struct{}

	running atomic.Bool
	logger  *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used by the Loop.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New creates a Loop. It does nothing until Run is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		notify: make(chan struct{}, 1),
		logger: slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Post queues fn to run on the Loop. It never blocks and is safe to call from
// any goroutine, including from a task already running on the Loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run executes posted tasks until ctx is done. Only one Run may be active at
// a time; a concurrent call returns ErrLoopRunning. Tasks still queued when
// ctx is done stay queued for the next Run.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	l.logger.Debug("event loop started")

	for {
		for {
			if ctx.Err() != nil {
				l.logger.Debug("event loop stopped")
				return nil
			}

			fn, ok := l.next()
			if !ok {
				break
			}

			l.runTask(fn)
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped")
			return nil
		case <-l.notify:
		}
	}
}

// Running reports whether Run is currently active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}

	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	return fn, true
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", r)
		}
	}()

	fn()
}
