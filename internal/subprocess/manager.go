package subprocess

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/nixpig/subprocd/internal/eventloop"
)

const (
	// drainPollInterval is how often Drain re-checks for pending callbacks.
	drainPollInterval = 25 * time.Millisecond

	// defaultWaitDelay bounds how long output copying may outlive a child.
	defaultWaitDelay = 100 * time.Millisecond
)

// Tag identifies one asynchronous execution started by Exec. The zero Tag is
// never issued.
type Tag uint32

// Callback is invoked on the event loop when a process started by Exec
// terminates. returnCode is the process' exit code, or the negated signal
// number if it was killed by a signal (see ExitCodeFromStatus).
type Callback func(returnCode int)

// ExecInfo is a snapshot of a tracked execution.
type ExecInfo struct {
	Tag   Tag
	PID   int
	Argv  []string
	State ExecState
	Armed bool
}

// Manager spawns processes and dispatches their completion callbacks on an
// event loop. It's safe for concurrent use; callbacks always run on the loop.
type Manager struct {
	// NOTE: Tags are minted independently of the OS pid, since pids can be
	// reused once a child has been reaped. The record keeps the pid for
	// diagnostics only.
	records map[Tag]*record
	lastTag Tag

	loop      *eventloop.Loop
	output    io.Writer
	waitDelay time.Duration
	logger    *slog.Logger

	mu sync.Mutex
}

type record struct {
	tag      Tag
	pid      int
	argv     []string
	callback Callback
	state    ExecState
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithOutput sets the writer receiving the merged stdout/stderr of spawned
// children. Defaults to the host's stdout. A nil writer discards output.
//
// A writer that isn't an *os.File is fed through a pipe, which descendants of
// the child may inherit and hold open after the child exits. Output they write
// more than the wait delay after the child's exit is lost (see WithWaitDelay).
func WithOutput(w io.Writer) Option {
	return func(m *Manager) {
		m.output = w
	}
}

// WithWaitDelay sets how long to keep copying a child's output after the child
// exits before its completion is reported anyway. Defaults to 100ms. Zero
// waits for every process holding the output pipe, so background descendants
// delay completion until they exit too.
func WithWaitDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.waitDelay = d
	}
}

// New creates a Manager that watches its children on loop. Completion
// callbacks are only dispatched while loop is running.
func New(loop *eventloop.Loop, opts ...Option) *Manager {
	if loop == nil {
		panic("subprocess: nil event loop")
	}

	m := &Manager{
		records:   make(map[Tag]*record),
		loop:      loop,
		output:    os.Stdout,
		waitDelay: defaultWaitDelay,
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Exec spawns argv with SpawnDefault flags. See ExecFlags.
func (m *Manager) Exec(argv []string, callback Callback) (Tag, error) {
	return m.ExecFlags(argv, SpawnDefault, callback)
}

// ExecFlags spawns argv without waiting for it and returns a Tag for the
// pending completion. callback, which may be nil, is invoked once on the event
// loop when the process terminates unless CancelExec is called first.
//
// On failure the returned Tag is 0 and nothing is tracked.
func (m *Manager) ExecFlags(
	argv []string,
	flags SpawnFlags,
	callback Callback,
) (Tag, error) {
	cmd, err := m.command(argv, flags)
	if err != nil {
		m.logger.Debug("build command", "argv", argv, "flags", flags, "err", err)
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		m.logger.Debug("start process", "argv", argv, "flags", flags, "err", err)
		return 0, NewSpawnError(argv[0], err)
	}

	rec := &record{
		pid:      cmd.Process.Pid,
		argv:     slices.Clone(argv),
		callback: callback,
		state:    ExecStateSpawned,
	}

	// The record must exist before the watch is installed, otherwise a fast
	// exit could be dispatched ahead of it.
	m.mu.Lock()
	rec.tag = m.mintTag()
	m.records[rec.tag] = rec
	m.mu.Unlock()

	tag := rec.tag

	if err := m.loop.WatchChild(cmd, func(exit eventloop.ChildExit) {
		m.dispatch(tag, exit)
	}); err != nil {
		m.mu.Lock()
		delete(m.records, tag)
		m.mu.Unlock()

		return 0, NewSpawnError(argv[0], err)
	}

	m.mu.Lock()
	if rec.state == ExecStateSpawned {
		rec.state = ExecStateRunning
	}
	m.mu.Unlock()

	m.logger.Debug(
		"spawned process",
		"tag", tag,
		"pid", rec.pid,
		"argv", argv,
		"flags", flags,
		"armed", callback != nil,
	)

	return tag, nil
}

// CancelExec detaches the callback registered for tag. The process keeps
// running and its exit is still collected. Unknown, stale and already
// cancelled tags are ignored.
//
// It reports whether a callback was detached. False means the callback will
// never run or has already been claimed for dispatch.
func (m *Manager) CancelExec(tag Tag) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[tag]
	if !exists || rec.callback == nil {
		return false
	}

	rec.callback = nil

	m.logger.Debug("cancelled callback", "tag", tag, "pid", rec.pid)

	return true
}

// SubprocessInFlight reports whether at least one callback is still waiting
// for its process to terminate.
func (m *Manager) SubprocessInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.callback != nil {
			return true
		}
	}

	return false
}

// Inspect returns a snapshot of the execution identified by tag, or
// ErrTagNotFound if it was never issued or has already been dispatched.
func (m *Manager) Inspect(tag Tag) (*ExecInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[tag]
	if !exists {
		return nil, ErrTagNotFound
	}

	return &ExecInfo{
		Tag:   rec.tag,
		PID:   rec.pid,
		Argv:  slices.Clone(rec.argv),
		State: rec.state,
		Armed: rec.callback != nil,
	}, nil
}

// Drain blocks until no callbacks are in flight or ctx is done. The event loop
// must be running for in-flight callbacks to complete.
func (m *Manager) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for m.SubprocessInFlight() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// dispatch runs on the event loop once per watched process. The record is
// removed before the callback runs so that eviction happens whatever the
// callback does, including calling back into the Manager.
func (m *Manager) dispatch(tag Tag, exit eventloop.ChildExit) {
	m.mu.Lock()

	rec, exists := m.records[tag]
	delete(m.records, tag)

	var callback Callback
	if exists {
		callback = rec.callback
		rec.callback = nil
		rec.state = ExecStateDispatched
	}

	m.mu.Unlock()

	if !exists {
		m.logger.Warn("exit of untracked process", "tag", tag, "pid", exit.PID)
		return
	}

	returnCode := ExitCodeUnknown
	if exit.Err == nil {
		returnCode = ExitCodeFromStatus(int(exit.Status))
	}

	m.logger.Debug(
		"process exited",
		"tag", tag,
		"pid", exit.PID,
		"return_code", returnCode,
		"armed", callback != nil,
		"err", exit.Err,
	)

	if callback != nil {
		callback(returnCode)
	}
}

// mintTag returns the next free Tag. Must be called with mu held.
func (m *Manager) mintTag() Tag {
	for {
		m.lastTag++

		if m.lastTag == 0 {
			continue
		}

		if _, live := m.records[m.lastTag]; !live {
			return m.lastTag
		}
	}
}
