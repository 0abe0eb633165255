package agent

import (
	"errors"
	"fmt"
)

// ErrStopped is returned when a run ends because the stop flag was set.
var ErrStopped = errors.New("agent stopped")

// ErrNotRunnable is returned when an agent is asked to run after Stop.
var ErrNotRunnable = errors.New("agent is stopped and cannot run")

// NoAnswerError reports a loop that exhausted its iteration budget without
// producing a final answer or matching a termination condition.
type NoAnswerError struct {
	Iterations int
}

func (e *NoAnswerError) Error() string {
	return fmt.Sprintf("Failed to get final answer after %d iterations", e.Iterations)
}

// IsNoAnswer reports whether err is a NoAnswerError.
func IsNoAnswer(err error) bool {
	var e *NoAnswerError
	return errors.As(err, &e)
}
