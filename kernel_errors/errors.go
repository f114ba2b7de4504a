package kernel_errors

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned by the page allocator when no CPU has a free page.
// It is recoverable: the caller decides whether to evict, retry or fail the system call.
var ErrOutOfMemory = errors.New("out of memory")

// ErrRefUnderflow is returned when a reference count that is already zero is decremented.
// The count is left at zero.
var ErrRefUnderflow = errors.New("reference count underflow")

// ErrFatal matches every FatalError through errors.Is.
var ErrFatal = errors.New("fatal kernel error")

// FatalError reports a broken invariant in trusted kernel code (misuse of a lock,
// an address outside the managed range, an exhausted buffer pool).
// The only sane response to a FatalError is to halt.
type FatalError struct {
	Op     string
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("panic: %s: %s", e.Op, e.Reason)
}

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// Fatal builds a FatalError for operation op.
func Fatal(op string, format string, args ...any) error {
	return &FatalError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
