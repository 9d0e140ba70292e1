package nucleus

import (
	"errors"
)

// Standard errors.
//
// Blocking operations translate the internal wake disposition into one of
// these exactly once, at the public boundary. Callers are expected to match
// with [errors.Is]; messages wrapped at call sites preserve the sentinel.
var (
	// ErrInvalidArgument is returned for malformed attributes, out-of-range
	// values, and state-precondition violations that POSIX reports as EINVAL
	// (for example joining an already-detached thread).
	ErrInvalidArgument = errors.New("nucleus: invalid argument")

	// ErrNoSuchObject is returned when a name or control object is unknown,
	// already reclaimed, or was never registered.
	ErrNoSuchObject = errors.New("nucleus: no such object")

	// ErrBusy is returned when a slot another context holds is requested,
	// such as an armed notification or an exclusive create of an existing
	// name.
	ErrBusy = errors.New("nucleus: resource busy")

	// ErrDeadlock is returned when an operation would block on the caller
	// itself, such as a self-join.
	ErrDeadlock = errors.New("nucleus: operation would deadlock")

	// ErrPermissionDenied is returned when the calling context may not block:
	// the caller holds the scheduler lock, or runs in a non-blockable context
	// such as a notification callback.
	ErrPermissionDenied = errors.New("nucleus: operation not permitted in calling context")

	// ErrWouldBlock is returned by non-blocking operations that would
	// otherwise suspend the caller.
	ErrWouldBlock = errors.New("nucleus: operation would block")

	// ErrTimedOut is returned when a deadline elapsed before the operation
	// could complete. An operation satisfied concurrently with expiry reports
	// success instead.
	ErrTimedOut = errors.New("nucleus: timed out")

	// ErrInterrupted is returned when a pending cancellation unblocked the
	// caller mid-wait.
	ErrInterrupted = errors.New("nucleus: interrupted")

	// ErrNoSpace is returned when creating an object would exceed the
	// configured memory budget.
	ErrNoSpace = errors.New("nucleus: no space left for object")

	// ErrMessageTooLarge is returned when a payload exceeds the queue's
	// configured message size, or a receive buffer is smaller than it.
	ErrMessageTooLarge = errors.New("nucleus: message too large")

	// ErrObjectDestroyed is returned when the caller woke, or an operation
	// was attempted, after the target object was destroyed out from under it.
	ErrObjectDestroyed = errors.New("nucleus: object destroyed")

	// ErrNotSupported is returned for requests the nucleus cannot honor, such
	// as an unsupported clock for periodic release.
	ErrNotSupported = errors.New("nucleus: not supported")

	// ErrFault is returned when caller-supplied memory could not be used for
	// a payload copy. Shared pool and queue state is never left partially
	// mutated.
	ErrFault = errors.New("nucleus: bad caller buffer")
)
