package subprocess

import (
	"errors"
	"fmt"
)

var (
	ErrTagNotFound  = errors.New("tag not found")
	ErrEmptyCommand = errors.New("command cannot be empty")
	ErrInvalidFlags = errors.New("invalid spawn flags")
)

// SpawnError is returned when a child process could not be created, e.g. the
// executable doesn't exist or fork/exec failed.
type SpawnError struct {
	Argv0 string
	Err   error
}

func (e SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Argv0, e.Err)
}

func (e SpawnError) Unwrap() error {
	return e.Err
}

func NewSpawnError(argv0 string, err error) SpawnError {
	return SpawnError{Argv0: argv0, Err: err}
}
