package subprocess

import (
	"fmt"
	"math"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitCodeUnknown is delivered to a Callback when the child was reaped but no
// wait status could be collected for it.
const ExitCodeUnknown = math.MinInt32

// ExitCodeFromStatus translates a raw wait status into a single return code:
// the exit code if the process exited normally, or the negated signal number
// if it was terminated by a signal.
func ExitCodeFromStatus(raw int) int {
	ws := syscall.WaitStatus(raw)

	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return -int(ws.Signal())
	default:
		return ExitCodeUnknown
	}
}

// DescribeStatus returns a human-readable description of a raw wait status.
func DescribeStatus(raw int) string {
	ws := syscall.WaitStatus(raw)

	switch {
	case ws.Exited():
		return fmt.Sprintf("exited %d", ws.ExitStatus())
	case ws.Signaled():
		if ws.CoreDump() {
			return fmt.Sprintf("killed by %s (core dumped)", signalName(ws.Signal()))
		}

		return "killed by " + signalName(ws.Signal())
	case ws.Stopped():
		return "stopped by " + signalName(ws.StopSignal())
	default:
		return fmt.Sprintf("unknown status %#x", raw)
	}
}

// DescribeExitCode returns a human-readable description of a return code
// produced by ExitCodeFromStatus.
func DescribeExitCode(code int) string {
	switch {
	case code == ExitCodeUnknown:
		return "unknown"
	case code < 0:
		return "killed by " + signalName(syscall.Signal(-code))
	default:
		return fmt.Sprintf("exited %d", code)
	}
}

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}

	return fmt.Sprintf("signal %d", int(sig))
}
