package nucleus

import (
	"fmt"
	"time"
)

// timeNow is swapped out by tests that need deterministic deadline math.
var timeNow = time.Now

// ClockID selects the time base for absolute deadlines and periodic release.
type ClockID uint8

const (
	// ClockRealtime is the wall clock. Absolute deadlines on it follow
	// wall-clock adjustments.
	ClockRealtime ClockID = iota
	// ClockMonotonic is the monotonic clock, anchored when the Nucleus is
	// created.
	ClockMonotonic
	// ClockMonotonicRaw is the raw hardware monotonic clock where the
	// platform exposes one (Linux); elsewhere it degrades to ClockMonotonic.
	ClockMonotonicRaw
)

// String returns a human-readable representation of the clock.
func (c ClockID) String() string {
	switch c {
	case ClockRealtime:
		return "realtime"
	case ClockMonotonic:
		return "monotonic"
	case ClockMonotonicRaw:
		return "monotonic-raw"
	default:
		return fmt.Sprintf("clock(%d)", uint8(c))
	}
}

func (c ClockID) valid() bool {
	return c <= ClockMonotonicRaw
}

// clock anchors the monotonic time bases of one Nucleus instance.
type clock struct {
	originWall time.Time
	originRaw  time.Duration // raw clock reading at anchor, when available
	haveRaw    bool
}

func newClock() clock {
	c := clock{originWall: timeNow()}
	c.originRaw, c.haveRaw = rawClockNow()
	return c
}

// now returns the current instant on the given clock. Monotonic reads are
// expressed as wall-anchored instants so absolute deadlines compare with
// ordinary time.Time values.
func (c *clock) now(id ClockID) time.Time {
	switch id {
	case ClockMonotonicRaw:
		if c.haveRaw {
			if raw, ok := rawClockNow(); ok {
				return c.originWall.Add(raw - c.originRaw)
			}
		}
		fallthrough
	case ClockMonotonic:
		return c.originWall.Add(timeNow().Sub(c.originWall))
	default:
		return timeNow()
	}
}

// until returns the duration from now until abs on the given clock. Elapsed
// instants yield non-positive durations.
func (c *clock) until(id ClockID, abs time.Time) time.Duration {
	return abs.Sub(c.now(id))
}

// deadlineKind discriminates Deadline variants.
type deadlineKind uint8

const (
	deadlineNone deadlineKind = iota
	deadlineRelative
	deadlineAbsolute
)

// Deadline bounds a blocking operation. The zero value blocks forever.
//
// A relative deadline counts from the moment the operation first suspends; an
// absolute deadline names an instant on a specific clock. An already-elapsed
// deadline still permits the operation's initial attempt, so a request that
// can complete without blocking never reports ErrTimedOut.
type Deadline struct {
	abs   time.Time
	rel   time.Duration
	kind  deadlineKind
	clock ClockID
}

// NoDeadline returns a Deadline that never expires.
func NoDeadline() Deadline { return Deadline{} }

// After returns a Deadline expiring d after the operation first suspends.
// Non-positive durations produce an immediately-elapsed deadline.
func After(d time.Duration) Deadline {
	return Deadline{kind: deadlineRelative, rel: d}
}

// Until returns an absolute Deadline on the realtime clock.
func Until(t time.Time) Deadline { return UntilOn(ClockRealtime, t) }

// UntilOn returns an absolute Deadline on the given clock.
func UntilOn(id ClockID, t time.Time) Deadline {
	return Deadline{kind: deadlineAbsolute, clock: id, abs: t}
}

// IsZero reports whether d never expires.
func (d Deadline) IsZero() bool { return d.kind == deadlineNone }

// valid reports whether the deadline names a usable clock.
func (d Deadline) valid() bool {
	return d.kind != deadlineAbsolute || d.clock.valid()
}

// fix pins a relative deadline to an absolute instant on the monotonic
// clock. Blocking operations call it before their first suspension so that
// retry loops draw down one budget instead of restarting it on every wake.
func (d Deadline) fix(c *clock) Deadline {
	if d.kind == deadlineRelative {
		return Deadline{kind: deadlineAbsolute, clock: ClockMonotonic, abs: c.now(ClockMonotonic).Add(d.rel)}
	}
	return d
}

// remaining converts the deadline into a wait budget. infinite is true for
// the zero Deadline. An invalid clock reports ok == false.
func (d Deadline) remaining(c *clock) (wait time.Duration, infinite, ok bool) {
	switch d.kind {
	case deadlineNone:
		return 0, true, true
	case deadlineRelative:
		return d.rel, false, true
	case deadlineAbsolute:
		if !d.clock.valid() {
			return 0, false, false
		}
		return c.until(d.clock, d.abs), false, true
	default:
		return 0, false, false
	}
}
