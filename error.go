package callout

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Recoverable scheduling errors. The host can evict objects, drop load,
// or retry later; none of these leave the scheduler in a bad state.
var (
	// ErrTooManyCallouts is returned by Check when the arena cannot
	// reserve the requested number of slots.
	ErrTooManyCallouts = errors.New("too many callouts")
	// ErrTooLongDelay is returned by Check when adding the delay to the
	// current time overflows the deadline.
	ErrTooLongDelay = errors.New("too long delay")
	// ErrTooManyCalloutsRestored is returned by Restore when the
	// snapshot holds more callouts than the arena has room for.
	ErrTooManyCalloutsRestored = errors.New("restored too many callouts")
)

// Error provides context about a failed scheduler operation.
// It wraps one of the sentinel error kinds, or the Swapper's I/O error
// from Save or Restore, with the scheduler name and the operation that
// failed.
type Error struct {
	Timestamp time.Time
	Err       error
	Path      []Name
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	path := strings.Join(e.Path, " -> ")
	if path == "" {
		path = "unknown"
	}
	return fmt.Sprintf("%s failed: %v", path, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and
// errors.As against the sentinel kinds.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
