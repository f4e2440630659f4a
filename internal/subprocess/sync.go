package subprocess

import (
	"errors"
	"os/exec"
)

// SynchronousExec runs argv with SpawnDefault flags. See SynchronousExecFlags.
func (m *Manager) SynchronousExec(argv []string) (int, error) {
	return m.SynchronousExecFlags(argv, SpawnDefault)
}

// SynchronousExecFlags runs argv and blocks until it terminates, returning its
// raw wait status. A nil error means spawning and waiting succeeded; the
// child's own status, zero or not, is left for the caller to interpret, e.g.
// with ExitCodeFromStatus.
//
// Calling this from a task on the event loop stalls all completion dispatch
// until the child exits.
func (m *Manager) SynchronousExecFlags(
	argv []string,
	flags SpawnFlags,
) (int, error) {
	cmd, err := m.command(argv, flags)
	if err != nil {
		return 0, err
	}

	runErr := cmd.Run()

	ws, ok := waitStatus(cmd.ProcessState)
	if !ok {
		if runErr == nil {
			runErr = errors.New("wait status unavailable")
		}

		m.logger.Debug("run process", "argv", argv, "flags", flags, "err", runErr)

		return 0, NewSpawnError(argv[0], runErr)
	}

	var exitErr *exec.ExitError

	switch {
	case runErr == nil, errors.As(runErr, &exitErr):
	case errors.Is(runErr, exec.ErrWaitDelay):
		m.logger.Debug("child output abandoned", "argv", argv, "err", runErr)
	default:
		m.logger.Warn("child output copy failed", "argv", argv, "err", runErr)
	}

	m.logger.Debug(
		"process finished",
		"argv", argv,
		"flags", flags,
		"status", DescribeStatus(int(ws)),
	)

	return int(ws), nil
}
