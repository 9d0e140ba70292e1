// Package nucleus provides a POSIX-flavoured threading and IPC kernel for
// Go, featuring joinable threads with cancellation and cleanup handlers,
// periodic timing, priority message queues with direct handoff, and
// single-slot mailboxes.
//
// # Architecture
//
// A [Nucleus] instance owns every object created through it: threads,
// named message queues, and mailboxes. Threads are ordinary goroutines
// wrapped in a [Thread] control block, created via [Nucleus.Create] or
// adopted from an existing goroutine via [Nucleus.Adopt]. Each thread
// supports POSIX-style lifecycle operations: [Nucleus.Join],
// [Nucleus.Detach], [Nucleus.Exit], [Nucleus.Cancel], LIFO cleanup
// handlers ([Nucleus.CleanupPush]), and per-thread storage with
// destructors ([Nucleus.SetSpecific]).
//
// Message queues ([Queue]) are bounded, priority-ordered, and backed by a
// fixed buffer pool sized at creation. When a receiver is already waiting,
// [Queue.Send] copies the payload directly into the receiver's buffer and
// never touches the pool. Mailboxes are single-slot rendezvous points
// addressed by name ([Nucleus.Post], [Nucleus.Pend], [Nucleus.Accept]).
//
// Periodic threads ([Nucleus.MakePeriodic]) wake at fixed intervals via
// [Nucleus.WaitPeriod], which reports missed periods as an overrun count
// rather than silently drifting.
//
// # Concurrency Model
//
// All state is guarded by one internal mutex. Blocking operations park the
// calling goroutine on a per-waiter channel outside the lock, so a blocked
// thread costs no CPU and holds no lock. Wakeups select the
// highest-priority waiter first, FIFO among equals, and every sleeper
// revalidates object state after waking: a wakeup delivered concurrently
// with a timeout wins over the timeout.
//
// Blocking calls accept a [Deadline] built from [NoDeadline], [After],
// [Until], or [UntilOn]. Deadlines resolve against the instance's own
// clock ([ClockRealtime] or [ClockMonotonic]), and relative deadlines are
// pinned once at the start of the operation.
//
// # Usage
//
//	x, err := nucleus.New(
//	    nucleus.WithMemoryBudget(1 << 20),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer x.Shutdown(context.Background())
//
//	d, err := x.OpenQueue("events", nucleus.OpenRead|nucleus.OpenWrite|nucleus.OpenCreate, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	th, err := x.Create(nucleus.ThreadAttr{Name: "consumer"}, func(any) any {
//	    buf := make([]byte, 8192)
//	    n, prio, err := d.Receive(buf)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Printf("got %q at priority %d\n", buf[:n], prio)
//	    return nil
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := d.Send([]byte("hello"), 3); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := x.Join(th); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// Failures map onto a fixed set of sentinel errors, matched with
// [errors.Is]:
//   - [ErrNoSuchObject]: name or handle does not resolve to a live object
//   - [ErrObjectDestroyed]: object was destroyed while the caller was blocked on it
//   - [ErrTimedOut]: deadline expired before the operation completed
//   - [ErrInterrupted]: waiter was unblocked by cancellation or a forced release
//   - [ErrWouldBlock]: non-blocking operation found the object unready
//   - [ErrBusy]: object is in use in a conflicting way
//   - [ErrDeadlock]: operation would block on itself
//   - [ErrNoSpace]: buffer pool or memory budget exhausted
//   - [ErrInvalidArgument], [ErrPermissionDenied], [ErrNotSupported],
//     [ErrMessageTooLarge], [ErrFault]: argument and caller validation
package nucleus
