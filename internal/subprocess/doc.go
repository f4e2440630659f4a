// Package subprocess runs child processes asynchronously and reports their
// termination through completion callbacks.
//
// A Manager spawns a process with Exec, which returns a Tag identifying the
// pending completion. The child's stderr is merged into its stdout. When the
// child terminates, the Manager's event loop dispatches the registered
// Callback exactly once with the child's exit code. CancelExec detaches the
// Callback from a Tag without touching the process itself.
//
// SynchronousExec and SynchronousExecFlags spawn and wait inline without any
// bookkeeping. SubprocessInFlight reports whether any Callback is still
// pending, for use by drain and shutdown logic.
//
// A process normally holds a single Manager, created with Init and retrieved
// with Get.
package subprocess
