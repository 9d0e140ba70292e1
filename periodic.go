package nucleus

import (
	"fmt"
	"time"
)

// periodicState tracks a thread's periodic release schedule. next is the
// earliest unconsumed release point on clock.
type periodicState struct {
	clock    ClockID
	next     time.Time
	period   time.Duration
	overruns uint64 // cumulative missed release points
	synch    synchro
}

// MakePeriodic arms periodic release for a thread. The first release point
// is start, or one period from now when start is the zero time; release
// points then recur every period on the given clock. The schedule only
// takes effect through the target's own WaitPeriod calls.
//
// A zero period disarms. Re-arming an armed thread replaces its schedule; a
// target blocked in WaitPeriod re-evaluates against the new one.
func (x *Nucleus) MakePeriodic(t *Thread, clockID ClockID, start time.Time, period time.Duration) error {
	if err := x.admit(); err != nil {
		return err
	}
	if !clockID.valid() {
		return fmt.Errorf("%w: %v", ErrNotSupported, clockID)
	}
	if period < 0 {
		return fmt.Errorf("%w: negative period %v", ErrInvalidArgument, period)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.lookupLocked(t); err != nil {
		return err
	}
	if !t.activeLocked() {
		return ErrNoSuchObject
	}

	old := t.periodic
	if period == 0 {
		t.periodic = nil
	} else {
		next := start
		if next.IsZero() {
			next = x.clk.now(clockID).Add(period)
		} else if x.clk.until(clockID, next) <= 0 {
			return fmt.Errorf("%w: start %v already elapsed", ErrTimedOut, start)
		}
		t.periodic = &periodicState{clock: clockID, next: next, period: period}
	}
	if old != nil {
		old.synch.wakeAll(wakeNormal)
	}
	return nil
}

// WaitPeriod suspends the calling thread until its next periodic release
// point and consumes it. When one or more full periods have already elapsed
// the call does not suspend: it reports the number of missed release points
// together with ErrTimedOut and realigns the schedule past them.
//
// A caller that may not block fails with ErrPermissionDenied, periodic or
// not; calling it on a thread that is not periodic fails with ErrWouldBlock.
func (x *Nucleus) WaitPeriod() (overruns uint64, err error) {
	if err := x.admit(); err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	t, blockable := x.callerLocked()
	if t == nil {
		return 0, fmt.Errorf("%w: WaitPeriod outside a nucleus thread", ErrPermissionDenied)
	}
	if !blockable {
		return 0, ErrPermissionDenied
	}

	for {
		p := t.periodic
		if p == nil {
			return 0, fmt.Errorf("%w: thread %q is not periodic", ErrWouldBlock, t.name)
		}

		now := x.clk.now(p.clock)
		if delta := now.Sub(p.next); delta >= 0 {
			// The pending release point is consumed without suspending. Full
			// periods beyond it count as overruns.
			missed := uint64(delta / p.period)
			p.next = p.next.Add(p.period * time.Duration(missed+1))
			if missed == 0 {
				return 0, nil
			}
			p.overruns += missed
			return missed, fmt.Errorf("%w: missed %d release points", ErrTimedOut, missed)
		}

		switch x.sleepOn(&p.synch, &t.w, UntilOn(p.clock, p.next)) {
		case wakeInterrupt:
			return 0, ErrInterrupted
		case wakeDestroyed:
			return 0, ErrObjectDestroyed
		}
		// Timeout means the release point arrived; a normal wake means the
		// schedule was replaced. Loop and re-read the ground truth either way.
	}
}
