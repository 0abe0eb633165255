package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when an action names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when a registry is constructed with two
	// tools sharing a name.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrStopped aborts execution when the owning agent's stop flag is set
	// between attempts.
	ErrStopped = errors.New("agent stopped")
)

// ExecutionError is raised after a tool has exhausted every attempt.
type ExecutionError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed after %d retries: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError checks if an error is a tool execution failure.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
