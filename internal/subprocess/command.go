package subprocess

import (
	"os"
	"os/exec"
	"slices"
	"syscall"
)

// command builds an unstarted exec.Cmd for argv according to flags.
//
// The child's stderr is the same writer as its stdout, so exec.Cmd hands the
// child a single descriptor for both before the image is loaded.
func (m *Manager) command(argv []string, flags SpawnFlags) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	if !flags.Valid() {
		return nil, ErrInvalidFlags
	}

	file := argv[0]
	args := argv

	if flags.Has(SpawnFileAndArgvZero) {
		if len(argv) < 2 {
			return nil, ErrEmptyCommand
		}

		args = argv[1:]
	}

	path := file

	if flags.Has(SpawnSearchPath) {
		p, err := exec.LookPath(file)
		if err != nil {
			return nil, NewSpawnError(file, err)
		}

		path = p
	}

	// NOTE: Building exec.Cmd directly rather than with exec.Command skips the
	// implicit $PATH lookup, which only happens with SpawnSearchPath.
	cmd := &exec.Cmd{
		Path:      path,
		Args:      slices.Clone(args),
		WaitDelay: m.waitDelay,
	}

	if !flags.Has(SpawnStdoutToDevNull) {
		cmd.Stdout = m.output
	}

	if !flags.Has(SpawnStderrToDevNull) {
		cmd.Stderr = cmd.Stdout
	}

	if flags.Has(SpawnChildInheritsStdin) {
		cmd.Stdin = os.Stdin
	}

	return cmd, nil
}

func waitStatus(ps *os.ProcessState) (syscall.WaitStatus, bool) {
	if ps == nil {
		return 0, false
	}

	ws, ok := ps.Sys().(syscall.WaitStatus)

	return ws, ok
}
