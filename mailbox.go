package nucleus

import (
	"fmt"
)

// mailbox is a single-slot rendezvous cell. Cells spring into existence on
// first use of a name and live until teardown; unlike queues they have no
// descriptors, no unlink, and no pool. Penders resume by priority, longest
// waiting first among equals.
type mailbox struct {
	slot any
	full bool
	pend synchro
}

func (x *Nucleus) mailboxLocked(name string) *mailbox {
	mb := x.mailboxes[name]
	if mb == nil {
		mb = &mailbox{}
		x.mailboxes[name] = mb
	}
	return mb
}

// Post places v in the named mailbox and wakes the highest-priority pender.
// A mailbox holds one value; posting to a full one fails with ErrBusy, and a
// nil value is invalid.
func (x *Nucleus) Post(name string, v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil mailbox value", ErrInvalidArgument)
	}
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	mb := x.mailboxLocked(name)
	if mb.full {
		return fmt.Errorf("%w: mailbox %q in use", ErrBusy, name)
	}
	mb.slot = v
	mb.full = true
	mb.pend.wakeOne()
	return nil
}

// Pend takes the value from the named mailbox, blocking until one is posted
// or the deadline elapses. A woken pender that finds the slot already
// drained by Accept goes back to waiting.
func (x *Nucleus) Pend(name string, dl Deadline) (any, error) {
	if err := x.admit(); err != nil {
		return nil, err
	}
	if !dl.valid() {
		return nil, fmt.Errorf("%w: bad deadline clock", ErrInvalidArgument)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	mb := x.mailboxLocked(name)
	cur, blockable := x.callerLocked()

	dl = dl.fix(&x.clk)
	var w *waiter
	var expired bool
	for {
		if mb.full {
			v := mb.slot
			mb.slot = nil
			mb.full = false
			return v, nil
		}
		if expired {
			return nil, ErrTimedOut
		}
		if !blockable {
			return nil, ErrPermissionDenied
		}
		if w == nil {
			w = x.waiterLocked(cur)
		}
		switch x.sleepOn(&mb.pend, w, dl) {
		case wakeInterrupt:
			return nil, ErrInterrupted
		case wakeDestroyed:
			return nil, ErrObjectDestroyed
		case wakeTimeout:
			expired = true
		}
	}
}

// Accept takes the value from the named mailbox without blocking, failing
// with ErrWouldBlock when it is empty.
func (x *Nucleus) Accept(name string) (any, error) {
	if err := x.admit(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	mb := x.mailboxLocked(name)
	if !mb.full {
		return nil, fmt.Errorf("%w: mailbox %q empty", ErrWouldBlock, name)
	}
	v := mb.slot
	mb.slot = nil
	mb.full = false
	return v, nil
}
