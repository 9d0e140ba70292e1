package nucleus

import (
	"time"
)

// synchro is the nucleus's sole blocking building block: a wait queue plus a
// destroyed marker. All methods require the nucleus lock. Waking a sleeper
// only marks it runnable; the sleeper reacquires the lock inside sleepOn
// before it can observe anything, so wakers may batch several state changes
// under one lock hold.
type synchro struct {
	wq        waitQueue
	destroyed bool
}

// wakeOne resumes the highest-priority sleeper, tagging it wakeNormal.
// Returns the resumed entry, or nil if the queue was empty. A non-nil return
// means the waker owes a reschedule once it drops the lock; callers that
// batch multiple wakeups pay for at most one.
func (s *synchro) wakeOne() *waiter {
	w := s.wq.pop()
	if w == nil {
		return nil
	}
	w.disp = wakeNormal
	w.signal <- struct{}{}
	return w
}

// wakeAll resumes every sleeper, tagging each with d. Returns the number of
// contexts resumed.
func (s *synchro) wakeAll(d disposition) int {
	n := 0
	for {
		w := s.wq.pop()
		if w == nil {
			return n
		}
		w.disp = d
		w.signal <- struct{}{}
		n++
	}
}

// destroy wakes every sleeper with wakeDestroyed and marks the primitive
// unusable. Subsequent sleeps fail immediately.
func (s *synchro) destroy() int {
	s.destroyed = true
	return s.wakeAll(wakeDestroyed)
}

func (s *synchro) empty() bool { return s.wq.empty() }

// interruptWaiter unblocks a specific sleeper with wakeInterrupt, wherever
// it is queued. Returns false if the entry was not queued, for example
// because a waker got there first.
func interruptWaiter(w *waiter) bool {
	if w.wq == nil || !w.wq.remove(w) {
		return false
	}
	w.disp = wakeInterrupt
	w.signal <- struct{}{}
	return true
}

// sleepOn suspends the caller on s until woken or the deadline elapses. The
// caller must hold the nucleus lock; it is released for the duration of the
// suspension and reacquired before sleepOn returns.
//
// The returned disposition is a hint, not ground truth: a waker can deliver
// a result and a timer can fire in the same instant, and whichever side
// dequeues the entry under the lock wins. Callers must recheck the protected
// state they slept for before acting on wakeTimeout in particular.
//
// sleepOn is a cancellation point for nucleus threads: a pending enabled
// cancellation converts to wakeInterrupt without suspending, or unblocks an
// in-progress suspension via interrupt.
func (x *Nucleus) sleepOn(s *synchro, w *waiter, dl Deadline) disposition {
	if s.destroyed {
		return wakeDestroyed
	}
	t := w.owner
	if t != nil && t.cancelPending && t.cancelState == CancelEnabled {
		return wakeInterrupt
	}

	wait, infinite, ok := dl.remaining(&x.clk)
	if !ok || (!infinite && wait <= 0) {
		return wakeTimeout
	}

	w.disp = wakeNormal
	s.wq.enqueue(w)
	if t != nil {
		t.state = ThreadBlocked
	}

	x.mu.Unlock()
	if infinite {
		<-w.signal
	} else {
		tm := time.NewTimer(wait)
		select {
		case <-w.signal:
			tm.Stop()
		case <-tm.C:
		}
	}
	x.mu.Lock()

	if w.queued() {
		// The timer fired while the entry was still queued; timeout wins.
		s.wq.remove(w)
		w.disp = wakeTimeout
	} else {
		// A waker dequeued the entry. Its signal may still be buffered if
		// the timer raced it; drain so the entry can be reused.
		select {
		case <-w.signal:
		default:
		}
	}
	if t != nil && t.state == ThreadBlocked {
		t.state = ThreadRunning
	}
	return w.disp
}
