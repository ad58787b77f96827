package process

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("process timed out")

// TimeoutError reports a process killed for exceeding its budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process timed out after %s", e.After)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Payload renders the timeout as a call result.
func (e *TimeoutError) Payload() map[string]any {
	return map[string]any{"error": "timeout"}
}
