package nucleus

import (
	"sync/atomic"
)

// NucleusState represents the lifecycle state of a Nucleus instance.
//
// State machine:
//
//	StateActive (0) → StateShuttingDown (1)   [Shutdown()]
//	StateShuttingDown (1) → StateTerminated (2) [teardown complete]
//	StateTerminated (2) → (terminal)
//
// StateActive is the zero value so a freshly-constructed instance accepts
// work without an explicit store. Irreversible transitions use Store; the
// contended Active → ShuttingDown edge uses CAS so exactly one Shutdown
// caller performs teardown.
type NucleusState uint64

const (
	// StateActive indicates the instance accepts operations.
	StateActive NucleusState = 0
	// StateShuttingDown indicates teardown has started; operations fail.
	StateShuttingDown NucleusState = 1
	// StateTerminated indicates teardown completed.
	StateTerminated NucleusState = 2
)

// String returns a human-readable representation of the state.
func (s NucleusState) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// lifeState is a lock-free state cell with cache-line padding, so hot-path
// admission checks never contend with neighbouring fields.
type lifeState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// Load returns the current state atomically.
func (s *lifeState) Load() NucleusState {
	return NucleusState(s.v.Load())
}

// Store atomically stores a new state. No transition validation.
func (s *lifeState) Store(state NucleusState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was performed by this call.
func (s *lifeState) TryTransition(from, to NucleusState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is Terminated.
func (s *lifeState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// ThreadState represents the lifecycle state of a thread control object.
//
// Transitions:
//
//	ThreadCreated → ThreadRunning            [goroutine start / Adopt]
//	ThreadRunning ⇄ ThreadBlocked            [sleep / wake]
//	ThreadRunning → ThreadZombie             [exit, joinable]
//	ThreadZombie → ThreadReclaimed           [resolving joiner, or teardown]
//	ThreadRunning → ThreadReclaimed          [exit, detached]
//
// Every transition is performed under the nucleus lock; the Zombie →
// Reclaimed edge has exactly one author per object.
type ThreadState uint32

const (
	// ThreadCreated indicates the control object exists but no goroutine is
	// attached yet (dormant shadow, or Create still in flight).
	ThreadCreated ThreadState = iota
	// ThreadRunning indicates the thread is attached and schedulable.
	ThreadRunning
	// ThreadBlocked indicates the thread sleeps on a synchronization
	// primitive.
	ThreadBlocked
	// ThreadZombie indicates the thread terminated joinable; the control
	// object is retained until the resolving joiner reclaims it.
	ThreadZombie
	// ThreadReclaimed indicates the control object was torn down.
	ThreadReclaimed
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case ThreadCreated:
		return "Created"
	case ThreadRunning:
		return "Running"
	case ThreadBlocked:
		return "Blocked"
	case ThreadZombie:
		return "Zombie"
	case ThreadReclaimed:
		return "Reclaimed"
	default:
		return "Unknown"
	}
}

// disposition is the reason a sleep resumed. It travels from the
// synchronization primitive to the public operation, which translates it to
// an error exactly once, in context.
type disposition uint8

const (
	// wakeNormal: woken by a waker (wake-one or wake-all with no special
	// reason). The waker may have delivered a result; the resumed context
	// must recheck ground truth.
	wakeNormal disposition = iota
	// wakeTimeout: the deadline elapsed while still queued.
	wakeTimeout
	// wakeInterrupt: a pending cancellation unblocked the sleeper.
	wakeInterrupt
	// wakeDestroyed: the primitive, or the object owning it, went away.
	wakeDestroyed
)

func (d disposition) String() string {
	switch d {
	case wakeNormal:
		return "normal"
	case wakeTimeout:
		return "timeout"
	case wakeInterrupt:
		return "interrupt"
	case wakeDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
