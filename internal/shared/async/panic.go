// Package async runs reminder work behind panic recovery so a faulty job,
// sink or handler goroutine surfaces as an error instead of a crash.
package async

import (
	"fmt"
	"runtime/debug"

	"herald/internal/shared/logging"
)

// PanicError is returned by Call when the task panicked.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Task, e.Value)
}

// Call runs fn and converts a panic into a *PanicError, logging the stack.
func Call(logger logging.Logger, task string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Task: task, Value: r, Stack: debug.Stack()}
			logging.OrNop(logger).Error("%v\n%s", perr, perr.Stack)
			err = perr
		}
	}()
	return fn()
}

// Go runs fn on its own goroutine through Call.
func Go(logger logging.Logger, task string, fn func()) {
	go func() {
		_ = Call(logger, task, func() error {
			fn()
			return nil
		})
	}()
}
