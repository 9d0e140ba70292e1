package nucleus

import (
	"testing"
	"time"
)

type sleepResult struct {
	name string
	disp disposition
}

// startSleeper parks an anonymous context on s and reports how it woke.
// It returns once the sleeper is queued.
func startSleeper(t *testing.T, x *Nucleus, s *synchro, name string, prio int, results chan<- sleepResult) {
	t.Helper()
	before := func() int {
		x.mu.Lock()
		defer x.mu.Unlock()
		return s.wq.len()
	}()
	go func() {
		x.mu.Lock()
		disp := x.sleepOn(s, newWaiter(nil, prio), NoDeadline())
		x.mu.Unlock()
		results <- sleepResult{name, disp}
	}()
	waitFor(t, name+" queued", func() bool {
		x.mu.Lock()
		defer x.mu.Unlock()
		return s.wq.len() == before+1
	})
}

func TestSleepOn_wakeOnePriorityOrder(t *testing.T) {
	x := newTestNucleus(t)
	var s synchro

	results := make(chan sleepResult, 3)
	startSleeper(t, x, &s, "low", 1, results)
	startSleeper(t, x, &s, "high-first", 5, results)
	startSleeper(t, x, &s, "high-second", 5, results)

	for _, want := range []string{"high-first", "high-second", "low"} {
		x.mu.Lock()
		w := s.wakeOne()
		x.mu.Unlock()
		if w == nil {
			t.Fatal("wakeOne returned nil with sleepers queued")
		}
		select {
		case r := <-results:
			if r.name != want || r.disp != wakeNormal {
				t.Errorf("woke %s with %v, want %s with normal", r.name, r.disp, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("sleeper never resumed")
		}
	}

	x.mu.Lock()
	w := s.wakeOne()
	x.mu.Unlock()
	if w != nil {
		t.Error("wakeOne on empty queue returned an entry")
	}
}

func TestSynchro_emptyTracksQueue(t *testing.T) {
	x := newTestNucleus(t)
	var s synchro

	x.mu.Lock()
	fresh := s.empty()
	x.mu.Unlock()
	if !fresh {
		t.Error("fresh synchro not empty")
	}

	results := make(chan sleepResult, 1)
	startSleeper(t, x, &s, "lone", 4, results)
	x.mu.Lock()
	occupied := s.empty()
	w := s.wakeOne()
	drained := s.empty()
	x.mu.Unlock()
	if occupied {
		t.Error("synchro empty with a sleeper queued")
	}
	if w == nil || !drained {
		t.Error("synchro not drained after wakeOne")
	}
	if r := <-results; r.disp != wakeNormal {
		t.Errorf("sleeper woke with %v, want normal", r.disp)
	}
}

func TestSleepOn_timeoutDequeues(t *testing.T) {
	x := newTestNucleus(t)
	var s synchro

	start := time.Now()
	x.mu.Lock()
	disp := x.sleepOn(&s, newWaiter(nil, 0), After(40*time.Millisecond))
	left := s.wq.len()
	x.mu.Unlock()

	if disp != wakeTimeout {
		t.Errorf("disposition %v, want timeout", disp)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("resumed after %v, want about 40ms", elapsed)
	}
	if left != 0 {
		t.Errorf("%d entries left queued after timeout", left)
	}
}

func TestSleepOn_immediateDispositions(t *testing.T) {
	x := newTestNucleus(t)

	var dead synchro
	dead.destroyed = true
	x.mu.Lock()
	disp := x.sleepOn(&dead, newWaiter(nil, 0), NoDeadline())
	x.mu.Unlock()
	if disp != wakeDestroyed {
		t.Errorf("sleep on destroyed primitive: %v, want destroyed", disp)
	}

	var s synchro
	x.mu.Lock()
	disp = x.sleepOn(&s, newWaiter(nil, 0), After(0))
	queued := s.wq.len()
	x.mu.Unlock()
	if disp != wakeTimeout || queued != 0 {
		t.Errorf("sleep with elapsed deadline: %v with %d queued, want immediate timeout", disp, queued)
	}
}

func TestSynchro_destroyWakesAll(t *testing.T) {
	x := newTestNucleus(t)
	var s synchro

	results := make(chan sleepResult, 2)
	startSleeper(t, x, &s, "one", 3, results)
	startSleeper(t, x, &s, "two", 7, results)

	x.mu.Lock()
	n := s.destroy()
	x.mu.Unlock()
	if n != 2 {
		t.Errorf("destroy resumed %d sleepers, want 2", n)
	}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.disp != wakeDestroyed {
				t.Errorf("%s woke with %v, want destroyed", r.name, r.disp)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("sleeper never resumed after destroy")
		}
	}
}

func TestInterruptWaiter(t *testing.T) {
	x := newTestNucleus(t)
	var s synchro

	w := newWaiter(nil, 2)
	got := make(chan disposition, 1)
	go func() {
		x.mu.Lock()
		disp := x.sleepOn(&s, w, NoDeadline())
		x.mu.Unlock()
		got <- disp
	}()
	waitFor(t, "sleeper queued", func() bool {
		x.mu.Lock()
		defer x.mu.Unlock()
		return w.queued()
	})

	x.mu.Lock()
	ok := interruptWaiter(w)
	x.mu.Unlock()
	if !ok {
		t.Fatal("interruptWaiter missed a queued entry")
	}
	select {
	case disp := <-got:
		if disp != wakeInterrupt {
			t.Errorf("disposition %v, want interrupt", disp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper never resumed after interrupt")
	}

	// Entries not on any queue are left alone.
	x.mu.Lock()
	ok = interruptWaiter(newWaiter(nil, 0))
	x.mu.Unlock()
	if ok {
		t.Error("interruptWaiter claimed an idle entry")
	}
}
