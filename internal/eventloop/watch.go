package eventloop

import (
	"errors"
	"os/exec"
	"syscall"
)

var ErrNotStarted = errors.New("command not started")

// ChildExit describes a terminated child process as collected by its reaper.
type ChildExit struct {
	PID    int
	Status syscall.WaitStatus

	// Err is set when no exit status could be collected for the child. Status
	// is meaningless in that case.
	Err error
}

// WatchChild reaps the started cmd on a dedicated goroutine and then posts fn,
// carrying the child's wait status, onto the Loop. fn runs exactly once, on
// the Loop, and only while the Loop is running.
//
// cmd must not be waited on by anyone else. If cmd copies output through a
// pipe, set cmd.WaitDelay so that descendants holding the pipe open can't
// hold back fn.
func (l *Loop) WatchChild(cmd *exec.Cmd, fn func(ChildExit)) error {
	if cmd.Process == nil {
		return ErrNotStarted
	}

	pid := cmd.Process.Pid

	go func() {
		err := cmd.Wait()

		exit := ChildExit{PID: pid}

		ws, ok := waitStatus(cmd)
		if ok {
			exit.Status = ws
		} else {
			exit.Err = err
			if exit.Err == nil {
				exit.Err = errors.New("wait status unavailable")
			}
		}

		if ok && err != nil {
			var exitErr *exec.ExitError

			switch {
			case errors.As(err, &exitErr):
			case errors.Is(err, exec.ErrWaitDelay):
				// A descendant still holds the child's output open.
				l.logger.Debug("child output abandoned", "pid", pid, "err", err)
			default:
				// The child was reaped but copying its output failed.
				l.logger.Warn("child output copy failed", "pid", pid, "err", err)
			}
		}

		l.logger.Debug("child reaped", "pid", pid, "status", uint32(exit.Status))

		l.Post(func() { fn(exit) })
	}()

	return nil
}

func waitStatus(cmd *exec.Cmd) (syscall.WaitStatus, bool) {
	if cmd.ProcessState == nil {
		return 0, false
	}

	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)

	return ws, ok
}
