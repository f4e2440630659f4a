package subprocess

// ResetInstance clears the process-wide Manager so Init can run again.
func ResetInstance() {
	instance.Store(nil)
}
