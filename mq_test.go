package nucleus

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestOpenQueue_validation(t *testing.T) {
	x := newTestNucleus(t)

	for _, tc := range [...]struct {
		name    string
		qname   string
		flags   OpenFlag
		attr    *QueueAttr
		wantErr error
	}{
		{"empty name", "", OpenRead | OpenCreate, nil, ErrInvalidArgument},
		{"unknown flags", "q", OpenRead | OpenFlag(1<<20), nil, ErrInvalidArgument},
		{"no direction", "q", OpenCreate, nil, ErrInvalidArgument},
		{"exclusive without create", "q", OpenRead | OpenExclusive, nil, ErrInvalidArgument},
		{"no create on unbound name", "q", OpenRead | OpenWrite, nil, ErrNoSuchObject},
		{"zero capacity", "q", OpenRead | OpenCreate, &QueueAttr{MaxMessages: 0, MessageSize: 64}, ErrInvalidArgument},
		{"zero message size", "q", OpenRead | OpenCreate, &QueueAttr{MaxMessages: 4, MessageSize: 0}, ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := x.OpenQueue(tc.qname, tc.flags, tc.attr); !errors.Is(err, tc.wantErr) {
				t.Errorf("OpenQueue = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOpenQueue_oversizedPool(t *testing.T) {
	x := newTestNucleus(t)

	for _, tc := range [...]struct {
		name string
		attr QueueAttr
	}{
		{"product overflows", QueueAttr{MaxMessages: 4, MessageSize: math.MaxInt}},
		{"beyond the slab cap", QueueAttr{MaxMessages: 3, MessageSize: maxQueueSlab}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			attr := tc.attr
			if _, err := x.OpenQueue("big", OpenRead|OpenCreate, &attr); !errors.Is(err, ErrNoSpace) {
				t.Errorf("OpenQueue = %v, want ErrNoSpace", err)
			}
		})
	}

	// Refused pools leave nothing bound or charged.
	if _, err := x.OpenQueue("big", OpenRead, nil); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("name after refused creation: %v, want ErrNoSuchObject", err)
	}
	d, err := x.OpenQueue("big", OpenRead|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 32})
	if err != nil {
		t.Fatal("create after refusals failed:", err)
	}
	d.Close()
}

func TestOpenQueue_createAttrReadback(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("cfg", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 4, MessageSize: 64})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	attr, err := d.Attr()
	if err != nil {
		t.Fatal("Attr failed:", err)
	}
	want := QueueAttr{MaxMessages: 4, MessageSize: 64}
	if attr != want {
		t.Errorf("Attr = %+v, want %+v", attr, want)
	}

	// A second descriptor shares the object but not the flags.
	d2, err := x.OpenQueue("cfg", OpenRead|OpenNonBlocking, nil)
	if err != nil {
		t.Fatal("second open failed:", err)
	}
	defer d2.Close()
	attr2, err := d2.Attr()
	if err != nil {
		t.Fatal("Attr failed:", err)
	}
	if attr2.MaxMessages != 4 || attr2.MessageSize != 64 || attr2.Flags != OpenNonBlocking {
		t.Errorf("second descriptor Attr = %+v", attr2)
	}
}

func TestOpenQueue_defaults(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("plain", OpenRead|OpenWrite|OpenCreate, nil)
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()
	attr, err := d.Attr()
	if err != nil {
		t.Fatal("Attr failed:", err)
	}
	if attr.MaxMessages != 10 || attr.MessageSize != 8192 {
		t.Errorf("default attributes = %+v, want 10 messages of 8192", attr)
	}
}

func TestOpenQueue_exclusive(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("once", OpenRead|OpenWrite|OpenCreate|OpenExclusive, &QueueAttr{MaxMessages: 2, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	if _, err := x.OpenQueue("once", OpenWrite|OpenCreate|OpenExclusive, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("exclusive reopen: %v, want ErrBusy", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	// The name stays bound after close; only unlink frees it.
	if _, err := x.OpenQueue("once", OpenWrite|OpenCreate|OpenExclusive, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("exclusive after close: %v, want ErrBusy", err)
	}
	if err := x.UnlinkQueue("once"); err != nil {
		t.Fatal("UnlinkQueue failed:", err)
	}
	d, err = x.OpenQueue("once", OpenRead|OpenWrite|OpenCreate|OpenExclusive, nil)
	if err != nil {
		t.Fatal("exclusive create after unlink failed:", err)
	}
	d.Close()
}

func TestQueue_priorityOrder(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("prio", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 8, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	for _, m := range [...]struct {
		payload string
		prio    uint
	}{
		{"low", 1},
		{"urgent-first", 5},
		{"mid", 3},
		{"urgent-second", 5},
	} {
		if err := d.Send([]byte(m.payload), m.prio); err != nil {
			t.Fatalf("Send %q failed: %v", m.payload, err)
		}
	}
	if attr, err := d.Attr(); err != nil || attr.CurrentMessages != 4 {
		t.Fatalf("CurrentMessages = %d (%v), want 4", attr.CurrentMessages, err)
	}

	// Highest priority first, FIFO among equals.
	buf := make([]byte, 16)
	for _, want := range [...]struct {
		payload string
		prio    uint
	}{
		{"urgent-first", 5},
		{"urgent-second", 5},
		{"mid", 3},
		{"low", 1},
	} {
		n, prio, err := d.Receive(buf)
		if err != nil {
			t.Fatal("Receive failed:", err)
		}
		if got := string(buf[:n]); got != want.payload || prio != want.prio {
			t.Errorf("received %q prio %d, want %q prio %d", got, prio, want.payload, want.prio)
		}
	}
}

func TestQueue_nonBlockingFlag(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("nb", OpenRead|OpenWrite|OpenCreate|OpenNonBlocking, &QueueAttr{MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	if err := d.Send([]byte("a"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	if err := d.Send([]byte("b"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	if err := d.Send([]byte("c"), 0); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("send to full non-blocking queue: %v, want ErrWouldBlock", err)
	}

	buf := make([]byte, 8)
	for i := 0; i < 2; i++ {
		if _, _, err := d.Receive(buf); err != nil {
			t.Fatal("Receive failed:", err)
		}
	}
	if _, _, err := d.Receive(buf); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("receive from empty non-blocking queue: %v, want ErrWouldBlock", err)
	}
}

func TestTimedSend_timeoutThenRefill(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("tight", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 1, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	if err := d.Send([]byte("one"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	if err := d.TimedSend([]byte("two"), 0, After(40*time.Millisecond)); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("send to full queue: %v, want ErrTimedOut", err)
	}

	sent := make(chan error, 1)
	go func() { sent <- d.Send([]byte("three"), 0) }()
	waitFor(t, "sender blocked", func() bool {
		s := x.Snapshot()
		return len(s.Queues) == 1 && s.Queues[0].Senders == 1
	})

	// Draining one slot releases the blocked sender into it.
	buf := make([]byte, 8)
	n, _, err := d.Receive(buf)
	if err != nil || string(buf[:n]) != "one" {
		t.Fatalf("Receive = %q, %v", buf[:n], err)
	}
	if err := <-sent; err != nil {
		t.Fatal("blocked send failed:", err)
	}
	n, _, err = d.Receive(buf)
	if err != nil || string(buf[:n]) != "three" {
		t.Fatalf("Receive = %q, %v", buf[:n], err)
	}
}

func TestTimedReceive_timeout(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("idle", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	start := time.Now()
	if _, _, err := d.TimedReceive(make([]byte, 8), After(40*time.Millisecond)); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("receive from empty queue: %v, want ErrTimedOut", err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("timed out after %v, want about 40ms", elapsed)
	}
}

func TestQueue_directHandoff(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("express", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 4, MessageSize: 32})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	type recv struct {
		payload string
		prio    uint
		err     error
	}
	got := make(chan recv, 1)
	go func() {
		buf := make([]byte, 32)
		n, prio, err := d.Receive(buf)
		got <- recv{string(buf[:n]), prio, err}
	}()
	waitFor(t, "receiver blocked", func() bool {
		s := x.Snapshot()
		return len(s.Queues) == 1 && s.Queues[0].Receivers == 1
	})

	if err := d.Send([]byte("hot"), 7); err != nil {
		t.Fatal("Send failed:", err)
	}
	// The message went straight into the receiver's buffer; the pool never
	// saw it.
	if attr, err := d.Attr(); err != nil || attr.CurrentMessages != 0 {
		t.Errorf("CurrentMessages = %d (%v), want 0 after handoff", attr.CurrentMessages, err)
	}
	select {
	case r := <-got:
		if r.err != nil || r.payload != "hot" || r.prio != 7 {
			t.Errorf("handoff receive = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never resumed")
	}

	// Without a waiting receiver the same send is pooled.
	if err := d.Send([]byte("cold"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	if attr, err := d.Attr(); err != nil || attr.CurrentMessages != 1 {
		t.Errorf("CurrentMessages = %d (%v), want 1", attr.CurrentMessages, err)
	}
}

func TestReceive_bufferValidation(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("strict", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 32})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	if _, _, err := d.Receive(nil); !errors.Is(err, ErrFault) {
		t.Errorf("nil buffer: %v, want ErrFault", err)
	}
	if _, _, err := d.Receive(make([]byte, 8)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("short buffer: %v, want ErrMessageTooLarge", err)
	}
}

func TestSend_validation(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("strict", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 32})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	if err := d.Send(make([]byte, 64), 0); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized payload: %v, want ErrMessageTooLarge", err)
	}
	if err := d.Send([]byte("x"), MaxMessagePriority); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("priority out of range: %v, want ErrInvalidArgument", err)
	}
	if err := d.TimedSend([]byte("x"), 0, UntilOn(ClockID(99), time.Now())); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad deadline clock: %v, want ErrInvalidArgument", err)
	}
	if _, _, err := d.TimedReceive(make([]byte, 32), UntilOn(ClockID(99), time.Now())); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad deadline clock: %v, want ErrInvalidArgument", err)
	}
}

func TestQueue_directionEnforcement(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("dir", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	d.Close()

	wo, err := x.OpenQueue("dir", OpenWrite, nil)
	if err != nil {
		t.Fatal("write-only open failed:", err)
	}
	defer wo.Close()
	if _, _, err := wo.Receive(make([]byte, 8)); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("receive on write-only descriptor: %v, want ErrPermissionDenied", err)
	}

	ro, err := x.OpenQueue("dir", OpenRead, nil)
	if err != nil {
		t.Fatal("read-only open failed:", err)
	}
	defer ro.Close()
	if err := ro.Send([]byte("x"), 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("send on read-only descriptor: %v, want ErrPermissionDenied", err)
	}
}

func TestNotify_oneShot(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("ding", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 4, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	fired := make(chan struct{}, 4)
	expectFire := func(context string) {
		t.Helper()
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatal("notification never fired:", context)
		}
	}
	expectQuiet := func(context string) {
		t.Helper()
		select {
		case <-fired:
			t.Error("unexpected notification:", context)
		case <-time.After(60 * time.Millisecond):
		}
	}

	if err := d.Notify(func() { fired <- struct{}{} }); err != nil {
		t.Fatal("Notify failed:", err)
	}
	if err := d.Send([]byte("a"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	expectFire("first send after arming")

	// Non-empty to more non-empty does not notify, and the registration was
	// consumed anyway.
	if err := d.Send([]byte("b"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	expectQuiet("send to non-empty queue")

	buf := make([]byte, 16)
	for i := 0; i < 2; i++ {
		if _, _, err := d.Receive(buf); err != nil {
			t.Fatal("Receive failed:", err)
		}
	}
	if err := d.Send([]byte("c"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	expectQuiet("send after the one-shot was consumed")

	if _, _, err := d.Receive(buf); err != nil {
		t.Fatal("Receive failed:", err)
	}
	if err := d.Notify(func() { fired <- struct{}{} }); err != nil {
		t.Fatal("rearm failed:", err)
	}
	if err := d.Send([]byte("d"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	expectFire("send after rearming")
}

func TestNotify_registrationOwnership(t *testing.T) {
	x := newTestNucleus(t)

	d1, err := x.OpenQueue("own", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d1.Close()
	d2, err := x.OpenQueue("own", OpenRead|OpenWrite, nil)
	if err != nil {
		t.Fatal("second open failed:", err)
	}

	// Disarming when nothing is armed is a no-op.
	if err := d1.Notify(nil); err != nil {
		t.Errorf("disarm with nothing armed: %v", err)
	}

	if err := d1.Notify(func() {}); err != nil {
		t.Fatal("Notify failed:", err)
	}
	if err := d2.Notify(func() {}); !errors.Is(err, ErrBusy) {
		t.Errorf("competing registration: %v, want ErrBusy", err)
	}
	if err := d2.Notify(nil); !errors.Is(err, ErrBusy) {
		t.Errorf("disarm of another descriptor's registration: %v, want ErrBusy", err)
	}
	if err := d1.Notify(nil); err != nil {
		t.Fatal("disarm failed:", err)
	}

	// Close drops the registration with the descriptor.
	if err := d2.Notify(func() {}); err != nil {
		t.Fatal("Notify failed:", err)
	}
	if err := d2.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	if err := d1.Notify(func() {}); err != nil {
		t.Errorf("arm after holder closed: %v", err)
	}
}

func TestNotify_skippedOnDirectHandoff(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("quietly", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	got := make(chan error, 1)
	go func() {
		_, _, err := d.Receive(make([]byte, 16))
		got <- err
	}()
	waitFor(t, "receiver blocked", func() bool {
		s := x.Snapshot()
		return len(s.Queues) == 1 && s.Queues[0].Receivers == 1
	})

	fired := make(chan struct{}, 1)
	if err := d.Notify(func() { fired <- struct{}{} }); err != nil {
		t.Fatal("Notify failed:", err)
	}
	if err := d.Send([]byte("direct"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	if err := <-got; err != nil {
		t.Fatal("handoff receive failed:", err)
	}
	select {
	case <-fired:
		t.Error("notification fired for a direct handoff")
	case <-time.After(60 * time.Millisecond):
	}

	// The registration survived the handoff and fires on the next pooled
	// send.
	if err := d.Send([]byte("pooled"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("notification never fired after the handoff")
	}
}

func TestNotify_callbackMayNotBlock(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("drain", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()
	nb, err := x.OpenQueue("drain", OpenRead|OpenNonBlocking, nil)
	if err != nil {
		t.Fatal("non-blocking open failed:", err)
	}
	defer nb.Close()

	type outcome struct {
		blockErr error
		payload  string
		drainErr error
	}
	got := make(chan outcome, 1)
	if err := d.Notify(func() {
		var o outcome
		_, o.blockErr = x.Pend("cb-box", NoDeadline())
		buf := make([]byte, 16)
		n, _, err := nb.Receive(buf)
		o.payload, o.drainErr = string(buf[:n]), err
		got <- o
	}); err != nil {
		t.Fatal("Notify failed:", err)
	}

	if err := d.Send([]byte("wakeup"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	select {
	case o := <-got:
		if !errors.Is(o.blockErr, ErrPermissionDenied) {
			t.Errorf("blocking op in callback: %v, want ErrPermissionDenied", o.blockErr)
		}
		if o.drainErr != nil || o.payload != "wakeup" {
			t.Errorf("non-blocking drain = %q, %v", o.payload, o.drainErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestNotify_callbackMayNotCreateOrRearm(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("guarded", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	type outcome struct {
		createErr error
		attachErr error
		rearmErr  error
	}
	got := make(chan outcome, 1)
	if err := d.Notify(func() {
		var o outcome
		_, o.createErr = x.OpenQueue("side", OpenRead|OpenWrite|OpenCreate, nil)
		if side, err := x.OpenQueue("guarded", OpenRead|OpenNonBlocking, nil); err != nil {
			o.attachErr = err
		} else {
			side.Close()
		}
		o.rearmErr = d.Notify(func() {})
		got <- o
	}); err != nil {
		t.Fatal("Notify failed:", err)
	}

	if err := d.Send([]byte("go"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	select {
	case o := <-got:
		if !errors.Is(o.createErr, ErrPermissionDenied) {
			t.Errorf("queue creation in callback: %v, want ErrPermissionDenied", o.createErr)
		}
		if o.attachErr != nil {
			t.Errorf("attach to an existing queue in callback failed: %v", o.attachErr)
		}
		if !errors.Is(o.rearmErr, ErrPermissionDenied) {
			t.Errorf("rearm in callback: %v, want ErrPermissionDenied", o.rearmErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}

	// The denied creation left no binding, and the denied rearm left the
	// registration free for a regular context to take.
	if _, err := x.OpenQueue("side", OpenRead, nil); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("side queue after denied creation: %v, want ErrNoSuchObject", err)
	}
	if err := d.Notify(func() {}); err != nil {
		t.Errorf("arm after callback completed: %v", err)
	}
}

func TestQueue_closeSemantics(t *testing.T) {
	x := newTestNucleus(t)

	d1, err := x.OpenQueue("life", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	d2, err := x.OpenQueue("life", OpenRead|OpenWrite, nil)
	if err != nil {
		t.Fatal("second open failed:", err)
	}
	defer d2.Close()

	if err := d1.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	if err := d1.Close(); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("double close: %v, want ErrNoSuchObject", err)
	}
	if err := d1.Send([]byte("x"), 0); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("send on closed descriptor: %v, want ErrNoSuchObject", err)
	}
	if _, _, err := d1.Receive(make([]byte, 8)); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("receive on closed descriptor: %v, want ErrNoSuchObject", err)
	}
	if _, err := d1.Attr(); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("attr on closed descriptor: %v, want ErrNoSuchObject", err)
	}
	if err := d1.Notify(func() {}); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("notify on closed descriptor: %v, want ErrNoSuchObject", err)
	}

	var nilq *Queue
	if err := nilq.Close(); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("close on nil descriptor: %v, want ErrNoSuchObject", err)
	}
	if err := nilq.Send([]byte("x"), 0); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("send on nil descriptor: %v, want ErrNoSuchObject", err)
	}

	// The other descriptor is unaffected.
	if err := d2.Send([]byte("ok"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	buf := make([]byte, 8)
	if n, _, err := d2.Receive(buf); err != nil || string(buf[:n]) != "ok" {
		t.Fatalf("Receive = %q, %v", buf[:n], err)
	}
}

func TestUnlinkQueue_deferredDestroy(t *testing.T) {
	x := newTestNucleus(t)

	d1, err := x.OpenQueue("limbo", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 64})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	d2, err := x.OpenQueue("limbo", OpenRead|OpenWrite, nil)
	if err != nil {
		t.Fatal("second open failed:", err)
	}
	if got := x.Snapshot().Allocated; got != 128 {
		t.Fatalf("allocated = %d, want 128", got)
	}

	if err := x.UnlinkQueue("limbo"); err != nil {
		t.Fatal("UnlinkQueue failed:", err)
	}
	if err := x.UnlinkQueue("limbo"); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("second unlink: %v, want ErrNoSuchObject", err)
	}
	if _, err := x.OpenQueue("limbo", OpenRead|OpenWrite, nil); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("open after unlink: %v, want ErrNoSuchObject", err)
	}
	if got := x.Snapshot().Queues; len(got) != 0 {
		t.Errorf("unlinked queue still listed: %+v", got)
	}

	// Open descriptors keep the unlinked queue fully usable.
	if err := d1.Send([]byte("still here"), 0); err != nil {
		t.Fatal("send after unlink failed:", err)
	}
	if err := d1.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	buf := make([]byte, 64)
	if n, _, err := d2.Receive(buf); err != nil || string(buf[:n]) != "still here" {
		t.Fatalf("Receive = %q, %v", buf[:n], err)
	}

	// The last close destroys the queue and returns its pool.
	if err := d2.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	if got := x.Snapshot().Allocated; got != 0 {
		t.Errorf("allocated = %d after destroy, want 0", got)
	}

	// The name is free for a fresh queue.
	d3, err := x.OpenQueue("limbo", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 1, MessageSize: 8})
	if err != nil {
		t.Fatal("recreate failed:", err)
	}
	defer d3.Close()
	if attr, err := d3.Attr(); err != nil || attr.MaxMessages != 1 || attr.CurrentMessages != 0 {
		t.Errorf("recreated queue Attr = %+v, %v", attr, err)
	}
}

func TestUnlinkQueue_unboundName(t *testing.T) {
	x := newTestNucleus(t)
	if err := x.UnlinkQueue("nothing"); !errors.Is(err, ErrNoSuchObject) {
		t.Errorf("unlink unbound name: %v, want ErrNoSuchObject", err)
	}
}

func TestSetAttr_toggleNonBlocking(t *testing.T) {
	x := newTestNucleus(t)

	d, err := x.OpenQueue("toggle", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 1, MessageSize: 8})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	defer d.Close()

	old, err := d.SetAttr(QueueAttr{Flags: OpenNonBlocking})
	if err != nil {
		t.Fatal("SetAttr failed:", err)
	}
	if old.Flags != 0 || old.MaxMessages != 1 || old.MessageSize != 8 {
		t.Errorf("previous attributes = %+v", old)
	}
	if _, _, err := d.Receive(make([]byte, 8)); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("receive after toggle: %v, want ErrWouldBlock", err)
	}

	old, err = d.SetAttr(QueueAttr{})
	if err != nil {
		t.Fatal("SetAttr failed:", err)
	}
	if old.Flags != OpenNonBlocking {
		t.Errorf("previous flags = %v, want OpenNonBlocking", old.Flags)
	}
	if _, _, err := d.TimedReceive(make([]byte, 8), After(30*time.Millisecond)); !errors.Is(err, ErrTimedOut) {
		t.Errorf("receive after clearing: %v, want ErrTimedOut", err)
	}

	if _, err := d.SetAttr(QueueAttr{Flags: OpenRead}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("setting a non-togglable flag: %v, want ErrInvalidArgument", err)
	}
}

func TestOpenQueue_concurrentCreate(t *testing.T) {
	x := newTestNucleus(t)

	type opened struct {
		d   *Queue
		err error
	}
	results := make(chan opened, 2)
	for i := 0; i < 2; i++ {
		go func() {
			d, err := x.OpenQueue("race", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 4, MessageSize: 32})
			results <- opened{d, err}
		}()
	}
	var ds []*Queue
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatal("concurrent open failed:", r.err)
		}
		ds = append(ds, r.d)
	}

	// Both descriptors reach the same queue.
	if err := ds[0].Send([]byte("shared"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	buf := make([]byte, 32)
	if n, _, err := ds[1].Receive(buf); err != nil || string(buf[:n]) != "shared" {
		t.Fatalf("Receive = %q, %v", buf[:n], err)
	}
	for _, d := range ds {
		if err := d.Close(); err != nil {
			t.Fatal("Close failed:", err)
		}
	}
}

func TestQueue_blockedReceiverSurvivesClose(t *testing.T) {
	x := newTestNucleus(t)

	d1, err := x.OpenQueue("hold", OpenRead|OpenWrite|OpenCreate, &QueueAttr{MaxMessages: 2, MessageSize: 16})
	if err != nil {
		t.Fatal("OpenQueue failed:", err)
	}
	d2, err := x.OpenQueue("hold", OpenWrite, nil)
	if err != nil {
		t.Fatal("second open failed:", err)
	}

	type recv struct {
		payload string
		err     error
	}
	got := make(chan recv, 1)
	go func() {
		buf := make([]byte, 16)
		n, _, err := d1.Receive(buf)
		got <- recv{string(buf[:n]), err}
	}()
	waitFor(t, "receiver blocked", func() bool {
		s := x.Snapshot()
		return len(s.Queues) == 1 && s.Queues[0].Receivers == 1
	})

	// Unlink and close under the blocked receiver; its in-flight reference
	// keeps the queue alive.
	if err := x.UnlinkQueue("hold"); err != nil {
		t.Fatal("UnlinkQueue failed:", err)
	}
	if err := d1.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}

	if err := d2.Send([]byte("bridge"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	select {
	case r := <-got:
		if r.err != nil || r.payload != "bridge" {
			t.Errorf("receive across close = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never resumed")
	}

	if err := d2.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	if got := x.Snapshot().Allocated; got != 0 {
		t.Errorf("allocated = %d after final close, want 0", got)
	}
}
