package subprocess

type ExecState int

const (
	// ExecStateUnknown is the zero value for functions that return a (possibly
	// absent) ExecState.
	ExecStateUnknown ExecState = iota

	// ExecStateSpawned indicates the process has been created and tracked but
	// its termination watch is not yet installed.
	ExecStateSpawned

	// ExecStateRunning indicates the process is being watched and its
	// completion will be dispatched when it exits.
	ExecStateRunning

	// ExecStateDispatched indicates the process has exited, its callback (if
	// still armed) has been invoked and its tracking entry removed.
	ExecStateDispatched
)

// NOTE: This slice needs to be kept in sync with the ExecState values.
var execStates = []string{
	"Unknown",
	"Spawned",
	"Running",
	"Dispatched",
}

// String implements the Stringer interface for ExecState.
func (s ExecState) String() string {
	if int(s) < 0 || int(s) >= len(execStates) {
		return execStates[0]
	}

	return execStates[s]
}
