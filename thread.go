package nucleus

import (
	"fmt"
	"runtime"
	"strings"
)

// Mode is a set of thread mode bits for SetMode.
type Mode uint32

const (
	// ModeLock is the scheduler-lock bit. While held the thread may not
	// block; blocking operations fail with ErrPermissionDenied. Clearing it
	// yields a reschedule opportunity.
	ModeLock Mode = 1 << iota
	// ModeWarnSwitch requests diagnostics on spurious relaxation. Only
	// shadow threads may set it.
	ModeWarnSwitch
	// ModePrimary pins a shadow thread to the primary execution domain.
	// Only shadow threads may set it.
	ModePrimary

	modeAll = ModeLock | ModeWarnSwitch | ModePrimary
)

// String returns a human-readable representation of the mode bits.
func (m Mode) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&ModeLock != 0 {
		parts = append(parts, "lock")
	}
	if m&ModeWarnSwitch != 0 {
		parts = append(parts, "warnswitch")
	}
	if m&ModePrimary != 0 {
		parts = append(parts, "primary")
	}
	if m&^modeAll != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(m&^modeAll)))
	}
	return strings.Join(parts, "|")
}

// ThreadAttr configures Create.
type ThreadAttr struct {
	// Name identifies the thread in registries and snapshots. Empty names
	// are assigned automatically.
	Name string
	// Priority orders the thread on wait queues; higher wakes first. Zero
	// selects the instance default; negative is invalid.
	Priority int
	// Detached creates the thread already detached: it cannot be joined and
	// its control object is reclaimed immediately on exit.
	Detached bool
	// InheritPriority takes the priority of the creating thread, which must
	// itself be a nucleus thread.
	InheritPriority bool
}

// Thread is a nucleus thread control object. All fields are guarded by the
// owning Nucleus lock.
type Thread struct {
	n    *Nucleus
	name string
	prio int

	state    ThreadState
	detached bool
	shadow   bool // created dormant, completed by Adopt
	adopted  bool
	exited   bool // exit status committed
	mode     Mode
	gid      uint64

	exitStatus  any
	joiners     synchro
	joinPending int // joiners woken for the status but not yet resumed

	cancelPending bool
	cancelState   CancelState
	cancelType    CancelType
	cleanups      []func()
	specifics     map[*SpecificKey]any

	periodic *periodicState

	w waiter // reusable wait entry; a thread sleeps on one queue at a time
}

func (x *Nucleus) newThreadLocked(name string, prio int, detached bool) *Thread {
	if name == "" {
		x.threadSeq++
		name = fmt.Sprintf("thread-%d", x.threadSeq)
	}
	t := &Thread{
		n:           x,
		name:        name,
		prio:        prio,
		state:       ThreadCreated,
		detached:    detached,
		cancelState: CancelEnabled,
		cancelType:  CancelDeferred,
	}
	t.w.signal = make(chan struct{}, 1)
	t.w.owner = t
	t.w.prio = prio
	t.w.index = -1
	x.threads = append(x.threads, t)
	return t
}

// activeLocked reports whether the thread has not yet terminated.
func (t *Thread) activeLocked() bool {
	switch t.state {
	case ThreadCreated, ThreadRunning, ThreadBlocked:
		return true
	default:
		return false
	}
}

// lookupLocked validates a caller-supplied thread handle.
func (x *Nucleus) lookupLocked(t *Thread) error {
	if t == nil || t.n != x || t.state == ThreadReclaimed {
		return ErrNoSuchObject
	}
	return nil
}

// waiterLocked returns the wait entry for a calling context: the thread's
// embedded entry, or a fresh one for anonymous goroutines.
func (x *Nucleus) waiterLocked(t *Thread) *waiter {
	if t != nil {
		return &t.w
	}
	return newWaiter(nil, x.defaultPrio)
}

// Create allocates a thread control object and starts a goroutine running
// entry. The entry routine's return value becomes the exit status, exactly
// as if the thread called Exit with it.
//
// A nil entry creates a dormant shadow: the control object exists and can be
// joined or detached, but no goroutine runs until one attaches itself with
// Adopt.
func (x *Nucleus) Create(attr ThreadAttr, entry func(arg any) any, arg any) (*Thread, error) {
	if err := x.admit(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	// Re-checked under the lock so registration cannot race teardown's
	// registry sweep.
	if x.state.Load() != StateActive {
		x.mu.Unlock()
		return nil, ErrObjectDestroyed
	}
	creator, _ := x.callerLocked()

	prio := attr.Priority
	switch {
	case attr.InheritPriority:
		if creator == nil {
			x.mu.Unlock()
			return nil, fmt.Errorf("%w: priority inheritance outside a nucleus thread", ErrInvalidArgument)
		}
		prio = creator.prio
	case prio == 0:
		prio = x.defaultPrio
	case prio < 0:
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: negative priority %d", ErrInvalidArgument, attr.Priority)
	}

	t := x.newThreadLocked(attr.Name, prio, attr.Detached)
	if entry == nil {
		t.shadow = true
		x.mu.Unlock()
		x.logger.Trace().Str("thread", t.name).Int("priority", prio).Log("nucleus: shadow created")
		return t, nil
	}

	x.wg.Add(1)
	go x.threadMain(t, entry, arg)
	x.mu.Unlock()

	x.logger.Trace().Str("thread", t.name).Int("priority", prio).Log("nucleus: thread created")
	return t, nil
}

// Adopt attaches the calling goroutine to a dormant shadow created with a
// nil entry routine. The adopted goroutine must leave through Exit.
func (x *Nucleus) Adopt(t *Thread) error {
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state.Load() != StateActive {
		return ErrObjectDestroyed
	}
	if err := x.lookupLocked(t); err != nil {
		return err
	}
	if !t.shadow || t.state != ThreadCreated {
		return fmt.Errorf("%w: not a dormant shadow", ErrInvalidArgument)
	}
	if cur, _ := x.callerLocked(); cur != nil {
		return fmt.Errorf("%w: goroutine already attached to %q", ErrBusy, cur.name)
	}
	t.gid = getGoroutineID()
	t.adopted = true
	t.state = ThreadRunning
	x.byGID[t.gid] = t
	x.wg.Add(1)
	return nil
}

func (x *Nucleus) threadMain(t *Thread, entry func(any) any, arg any) {
	defer x.wg.Done()

	x.mu.Lock()
	if t.state != ThreadCreated {
		// Teardown reclaimed the control object before this goroutine ever
		// ran; the entry routine is not invoked.
		x.mu.Unlock()
		return
	}
	t.gid = getGoroutineID()
	x.byGID[t.gid] = t
	t.state = ThreadRunning
	x.mu.Unlock()

	var status any
	defer func() {
		if r := recover(); r != nil {
			x.logger.Err().Str("thread", t.name).Any("recovered", r).Log("nucleus: thread panicked")
			status = fmt.Errorf("nucleus: thread %q panicked: %v", t.name, r)
		}
		// Runs on ordinary return, panic, and the Goexit performed by Exit;
		// in the last case the status was already committed.
		x.finishThread(t, status)
	}()
	status = entry(arg)
}

// finishThread is the teardown path every terminating thread funnels
// through: commit the exit status, run cleanup handlers and key destructors,
// then transition to zombie or reclaim outright.
func (x *Nucleus) finishThread(t *Thread, status any) {
	x.mu.Lock()
	if !t.exited {
		t.exitStatus = status
		t.exited = true
	}
	t.cancelState = CancelDisabled
	cleanups := t.cleanups
	t.cleanups = nil
	specifics := t.specifics
	t.specifics = nil
	x.mu.Unlock()

	// LIFO, outside the lock: handlers may call back into the nucleus.
	for i := len(cleanups) - 1; i >= 0; i-- {
		x.safeRun(t, cleanups[i])
	}
	for key, value := range specifics {
		if key.destructor != nil && value != nil {
			v := value
			d := key.destructor
			x.safeRun(t, func() { d(v) })
		}
	}

	x.mu.Lock()
	t.periodic = nil
	if t.gid != 0 {
		delete(x.byGID, t.gid)
		t.gid = 0
	}
	t.state = ThreadZombie
	if t.detached {
		x.reclaimLocked(t)
	} else if w := t.joiners.wakeOne(); w != nil {
		t.joinPending++
	}
	x.mu.Unlock()

	x.logger.Trace().Str("thread", t.name).Log("nucleus: thread exited")
}

// safeRun isolates user callbacks from the teardown path.
func (x *Nucleus) safeRun(t *Thread, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Err().Str("thread", t.name).Any("recovered", r).Log("nucleus: cleanup handler panicked")
		}
	}()
	fn()
}

// reclaimLocked destroys a control object. The Zombie → Reclaimed edge has
// exactly one author: the resolving joiner, the detached exit path, or
// teardown.
func (x *Nucleus) reclaimLocked(t *Thread) {
	if t.state == ThreadReclaimed {
		return
	}
	t.state = ThreadReclaimed
	// Sleepers can still be queued here only during forced teardown.
	t.joiners.destroy()
	for i, o := range x.threads {
		if o == t {
			x.threads = append(x.threads[:i], x.threads[i+1:]...)
			break
		}
	}
	x.reclaims++
}

// Exit terminates the calling thread with the given status, running its
// cleanup handlers and key destructors first. It does not return.
//
// The goroutine ends via runtime.Goexit, so deferred calls still run.
// Calling Exit from a goroutine that is not attached to this instance
// panics.
func (x *Nucleus) Exit(status any) {
	x.mu.Lock()
	t, _ := x.callerLocked()
	if t == nil {
		x.mu.Unlock()
		panic(fmt.Errorf(`nucleus: Exit called from an unattached goroutine`))
	}
	if !t.exited {
		t.exitStatus = status
		t.exited = true
	}
	adopted := t.adopted
	x.mu.Unlock()

	if adopted {
		// Adopted goroutines have no threadMain frame to unwind into; finish
		// here before the stack disappears.
		x.finishThread(t, nil)
		x.wg.Done()
	}
	runtime.Goexit()
}

// Detach marks a thread detached: it can no longer be joined, and its
// control object is reclaimed immediately when it exits. Joiners currently
// blocked on the thread are unblocked and their Join returns
// ErrInvalidArgument.
func (x *Nucleus) Detach(t *Thread) error {
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
	if t.detached {
		return fmt.Errorf("%w: thread %q already detached", ErrInvalidArgument, t.name)
	}
	t.detached = true
	t.joiners.wakeAll(wakeDestroyed)
	return nil
}

// Join blocks until t terminates and returns its exit status. See TimedJoin.
func (x *Nucleus) Join(t *Thread) (any, error) {
	return x.TimedJoin(t, NoDeadline())
}

// TimedJoin blocks until t terminates, the deadline elapses, or the caller
// is cancelled.
//
// Every joiner of the same thread observes the identical exit status. The
// joiner that resolves the join last reclaims the control object; after the
// first successful join the thread counts as detached, so later joins fail
// with ErrInvalidArgument instead of blocking. Self-join fails with
// ErrDeadlock. If the thread is detached mid-wait, blocked joiners return
// ErrInvalidArgument.
func (x *Nucleus) TimedJoin(t *Thread, dl Deadline) (any, error) {
	if err := x.admit(); err != nil {
		return nil, err
	}
	if !dl.valid() {
		return nil, fmt.Errorf("%w: bad deadline clock", ErrInvalidArgument)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.lookupLocked(t); err != nil {
		return nil, err
	}
	cur, blockable := x.callerLocked()
	if cur == t {
		return nil, ErrDeadlock
	}
	if t.detached {
		return nil, fmt.Errorf("%w: thread %q is detached", ErrInvalidArgument, t.name)
	}

	dl = dl.fix(&x.clk)
	var w *waiter
	for t.activeLocked() {
		if !blockable {
			return nil, ErrPermissionDenied
		}
		if w == nil {
			w = x.waiterLocked(cur)
		}
		disp := x.sleepOn(&t.joiners, w, dl)
		if disp == wakeNormal {
			// Keep the handoff chain moving before resolving locally: the
			// exit path wakes one joiner, and each wakes the next.
			t.joinPending--
			if nw := t.joiners.wakeOne(); nw != nil {
				t.joinPending++
			}
		}
		switch disp {
		case wakeInterrupt:
			return nil, ErrInterrupted
		case wakeDestroyed:
			return nil, fmt.Errorf("%w: thread %q detached while joining", ErrInvalidArgument, t.name)
		case wakeTimeout:
			if t.state != ThreadZombie {
				return nil, ErrTimedOut
			}
			// The exit raced the deadline; success wins.
		}
		if cur != nil && cur.cancelPending && cur.cancelState == CancelEnabled {
			return nil, ErrInterrupted
		}
	}

	status := t.exitStatus
	t.detached = true
	if t.joinPending == 0 && t.joiners.empty() {
		// No joiner is queued or on its way to read the status: this caller
		// resolves the join and reclaims the control object.
		x.reclaimLocked(t)
	}
	return status, nil
}

// Self returns the calling goroutine's thread control object, or nil for a
// goroutine not attached to this instance.
func (x *Nucleus) Self() *Thread {
	x.mu.Lock()
	t, _ := x.callerLocked()
	x.mu.Unlock()
	return t
}

// Equal reports whether two thread handles name the same control object. No
// liveness check is made.
func Equal(t1, t2 *Thread) bool {
	return t1 == t2
}

// SetName renames a thread.
func (x *Nucleus) SetName(t *Thread, name string) error {
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.lookupLocked(t); err != nil {
		return err
	}
	t.name = name
	return nil
}

// Name returns the thread's name.
func (t *Thread) Name() string {
	if t == nil || t.n == nil {
		return ""
	}
	t.n.mu.Lock()
	defer t.n.mu.Unlock()
	return t.name
}

// State returns the thread's lifecycle state.
func (t *Thread) State() ThreadState {
	if t == nil || t.n == nil {
		return ThreadReclaimed
	}
	t.n.mu.Lock()
	defer t.n.mu.Unlock()
	return t.state
}

// SetMode clears then sets mode bits on the calling thread and returns the
// previous bits. ModeLock may be toggled by any nucleus thread; the shadow
// diagnostics bits only by shadow threads. Clearing ModeLock yields a
// reschedule opportunity before returning.
func (x *Nucleus) SetMode(clear, set Mode) (Mode, error) {
	if err := x.admit(); err != nil {
		return 0, err
	}
	x.mu.Lock()
	t, _ := x.callerLocked()
	if t == nil {
		x.mu.Unlock()
		return 0, fmt.Errorf("%w: SetMode outside a nucleus thread", ErrPermissionDenied)
	}
	if (clear|set)&^modeAll != 0 {
		x.mu.Unlock()
		return 0, fmt.Errorf("%w: unknown mode bits 0x%x", ErrInvalidArgument, uint32((clear|set)&^modeAll))
	}
	if (clear|set)&(ModeWarnSwitch|ModePrimary) != 0 && !t.shadow {
		x.mu.Unlock()
		return 0, fmt.Errorf("%w: shadow-only mode bits", ErrInvalidArgument)
	}
	old := t.mode
	t.mode = old&^clear | set
	unlocked := old&ModeLock != 0 && t.mode&ModeLock == 0
	x.mu.Unlock()

	if unlocked {
		runtime.Gosched()
	}
	return old, nil
}
