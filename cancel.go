package nucleus

import (
	"errors"
	"fmt"
)

// Canceled is the exit status of a thread terminated by cancellation.
var Canceled = errors.New("nucleus: thread canceled")

// CancelState enables or disables cancellation delivery for a thread.
type CancelState uint8

const (
	// CancelEnabled delivers pending cancellation at cancellation points.
	CancelEnabled CancelState = iota
	// CancelDisabled holds cancellation pending without delivering it.
	CancelDisabled
)

// String returns a human-readable representation of the state.
func (s CancelState) String() string {
	switch s {
	case CancelEnabled:
		return "enabled"
	case CancelDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("CancelState(%d)", uint8(s))
	}
}

// CancelType selects when an enabled cancellation is delivered.
//
// Delivery is cooperative either way: a goroutine cannot be killed from
// outside, so CancelAsynchronous is recorded and reported but still takes
// effect at suspension points, exactly like CancelDeferred.
type CancelType uint8

const (
	// CancelDeferred delivers cancellation at cancellation points only.
	CancelDeferred CancelType = iota
	// CancelAsynchronous requests immediate delivery.
	CancelAsynchronous
)

// String returns a human-readable representation of the type.
func (t CancelType) String() string {
	switch t {
	case CancelDeferred:
		return "deferred"
	case CancelAsynchronous:
		return "asynchronous"
	default:
		return fmt.Sprintf("CancelType(%d)", uint8(t))
	}
}

// Cancel requests cancellation of a thread. The request is sticky: it stays
// pending until the thread terminates, surviving disable/enable cycles of
// the cancellation state.
//
// If the target has cancellation enabled and is blocked, it is unblocked and
// its operation returns ErrInterrupted. A running thread observes the
// request at its next cancellation point: any blocking operation, or an
// explicit TestCancel.
func (x *Nucleus) Cancel(t *Thread) error {
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.lookupLocked(t); err != nil {
		return err
	}
	if !t.activeLocked() {
		return ErrNoSuchObject
	}
	t.cancelPending = true
	if t.cancelState == CancelEnabled {
		interruptWaiter(&t.w)
	}
	return nil
}

// SetCancelState sets the calling thread's cancellation state and returns
// the previous one. A request held pending while disabled is delivered at
// the next cancellation point after re-enabling.
func (x *Nucleus) SetCancelState(state CancelState) (CancelState, error) {
	if state != CancelEnabled && state != CancelDisabled {
		return 0, fmt.Errorf("%w: bad cancel state %d", ErrInvalidArgument, uint8(state))
	}
	if err := x.admit(); err != nil {
		return 0, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, _ := x.callerLocked()
	if t == nil {
		return 0, fmt.Errorf("%w: SetCancelState outside a nucleus thread", ErrPermissionDenied)
	}
	old := t.cancelState
	t.cancelState = state
	return old, nil
}

// SetCancelType sets the calling thread's cancellation type and returns the
// previous one.
func (x *Nucleus) SetCancelType(typ CancelType) (CancelType, error) {
	if typ != CancelDeferred && typ != CancelAsynchronous {
		return 0, fmt.Errorf("%w: bad cancel type %d", ErrInvalidArgument, uint8(typ))
	}
	if err := x.admit(); err != nil {
		return 0, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, _ := x.callerLocked()
	if t == nil {
		return 0, fmt.Errorf("%w: SetCancelType outside a nucleus thread", ErrPermissionDenied)
	}
	old := t.cancelType
	t.cancelType = typ
	return old, nil
}

// TestCancel is an explicit cancellation point. If the calling thread has an
// enabled pending cancellation it terminates here with exit status Canceled,
// running cleanup handlers and key destructors on the way out. Calls from
// goroutines not attached to this instance are no-ops.
func (x *Nucleus) TestCancel() {
	x.mu.Lock()
	t, _ := x.callerLocked()
	act := t != nil && t.cancelPending && t.cancelState == CancelEnabled
	x.mu.Unlock()
	if act {
		x.Exit(Canceled)
	}
}

// CleanupPush registers a handler on the calling thread's cleanup stack.
// Handlers run in LIFO order when the thread exits or is cancelled.
func (x *Nucleus) CleanupPush(fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: nil cleanup handler", ErrInvalidArgument)
	}
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, _ := x.callerLocked()
	if t == nil {
		return fmt.Errorf("%w: CleanupPush outside a nucleus thread", ErrPermissionDenied)
	}
	t.cleanups = append(t.cleanups, fn)
	return nil
}

// CleanupPop removes the most recently pushed handler from the calling
// thread's cleanup stack, running it first if execute is set.
func (x *Nucleus) CleanupPop(execute bool) error {
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	t, _ := x.callerLocked()
	if t == nil {
		x.mu.Unlock()
		return fmt.Errorf("%w: CleanupPop outside a nucleus thread", ErrPermissionDenied)
	}
	if len(t.cleanups) == 0 {
		x.mu.Unlock()
		return fmt.Errorf("%w: cleanup stack empty", ErrInvalidArgument)
	}
	fn := t.cleanups[len(t.cleanups)-1]
	t.cleanups = t.cleanups[:len(t.cleanups)-1]
	x.mu.Unlock()

	if execute {
		fn()
	}
	return nil
}

// SpecificKey is a key for thread-specific data. Distinct keys are distinct
// values; the same key may be used across threads and instances.
type SpecificKey struct {
	destructor func(value any)
}

// NewSpecificKey allocates a key. The destructor, if non-nil, runs against
// each thread's non-nil value for the key when that thread terminates.
func NewSpecificKey(destructor func(value any)) *SpecificKey {
	return &SpecificKey{destructor: destructor}
}

// SetSpecific binds a value to key for the calling thread. A nil value
// clears the binding without running the destructor.
func (x *Nucleus) SetSpecific(key *SpecificKey, value any) error {
	if key == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidArgument)
	}
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, _ := x.callerLocked()
	if t == nil {
		return fmt.Errorf("%w: SetSpecific outside a nucleus thread", ErrPermissionDenied)
	}
	if value == nil {
		delete(t.specifics, key)
		return nil
	}
	if t.specifics == nil {
		t.specifics = make(map[*SpecificKey]any)
	}
	t.specifics[key] = value
	return nil
}

// Specific returns the calling thread's value for key, or nil when unset.
func (x *Nucleus) Specific(key *SpecificKey) (any, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidArgument)
	}
	if err := x.admit(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, _ := x.callerLocked()
	if t == nil {
		return nil, fmt.Errorf("%w: Specific outside a nucleus thread", ErrPermissionDenied)
	}
	return t.specifics[key], nil
}
