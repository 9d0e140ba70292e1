package nucleus

import (
	"fmt"
	"strings"
)

const (
	defaultQueueMessages = 10
	defaultQueueSize     = 8192

	// maxQueueSlab caps a single queue's buffer pool. Larger requests fail
	// with ErrNoSpace before anything is charged or allocated.
	maxQueueSlab = 1 << 30

	// MaxMessagePriority is the exclusive upper bound for message priorities.
	MaxMessagePriority = 32768
)

// OpenFlag controls OpenQueue and descriptor behavior.
type OpenFlag uint32

const (
	// OpenRead permits Receive on the descriptor.
	OpenRead OpenFlag = 1 << iota
	// OpenWrite permits Send on the descriptor.
	OpenWrite
	// OpenCreate creates the queue if the name is unbound.
	OpenCreate
	// OpenExclusive fails with ErrBusy if the name is already bound. It
	// requires OpenCreate.
	OpenExclusive
	// OpenNonBlocking makes Send and Receive fail with ErrWouldBlock instead
	// of suspending. Togglable later via SetAttr.
	OpenNonBlocking

	openAll = OpenRead | OpenWrite | OpenCreate | OpenExclusive | OpenNonBlocking
)

// String returns a human-readable representation of the flags.
func (f OpenFlag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, b := range [...]struct {
		bit  OpenFlag
		name string
	}{
		{OpenRead, "read"},
		{OpenWrite, "write"},
		{OpenCreate, "create"},
		{OpenExclusive, "exclusive"},
		{OpenNonBlocking, "nonblock"},
	} {
		if f&b.bit != 0 {
			parts = append(parts, b.name)
		}
	}
	if f&^openAll != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(f&^openAll)))
	}
	return strings.Join(parts, "|")
}

// QueueAttr describes a message queue. MaxMessages and MessageSize are fixed
// at creation. Flags carries the descriptor's OpenNonBlocking bit, and
// CurrentMessages the number of pending messages; both are outputs of Attr
// and, except for Flags in SetAttr, ignored as inputs.
type QueueAttr struct {
	MaxMessages     int
	MessageSize     int
	Flags           OpenFlag
	CurrentMessages int
}

// msg is one pooled message buffer. next links it on the free list or the
// pending list, never both.
type msg struct {
	data []byte
	len  int
	prio uint
	next *msg
}

// queue is the shared object behind every descriptor for one name. Buffers
// come from a single slab sized at creation; no per-message allocation
// happens afterwards.
type queue struct {
	name        string
	maxMessages int
	messageSize int

	mem  []byte
	msgs []msg
	free *msg

	// pending messages, highest priority first, FIFO within a priority
	pendHead  *msg
	pendCount int

	senders   synchro
	receivers synchro

	notify    func() // armed one-shot callback, nil otherwise
	notifyOn  *Queue // descriptor holding the registration
	destroyed bool
}

func newQueue(name string, maxMessages, messageSize int) *queue {
	q := &queue{
		name:        name,
		maxMessages: maxMessages,
		messageSize: messageSize,
		mem:         make([]byte, maxMessages*messageSize),
		msgs:        make([]msg, maxMessages),
	}
	for i := len(q.msgs) - 1; i >= 0; i-- {
		m := &q.msgs[i]
		m.data = q.mem[i*messageSize : (i+1)*messageSize : (i+1)*messageSize]
		m.next = q.free
		q.free = m
	}
	return q
}

func (q *queue) allocMsg() *msg {
	m := q.free
	if m != nil {
		q.free = m.next
		m.next = nil
	}
	return m
}

// releaseMsg returns a buffer to the front of the free list, so the next
// send reuses the most recently touched slot.
func (q *queue) releaseMsg(m *msg) {
	m.len = 0
	m.prio = 0
	m.next = q.free
	q.free = m
}

// insertPending queues m behind every pending message of equal or higher
// priority.
func (q *queue) insertPending(m *msg) {
	var prev *msg
	cur := q.pendHead
	for cur != nil && cur.prio >= m.prio {
		prev = cur
		cur = cur.next
	}
	m.next = cur
	if prev == nil {
		q.pendHead = m
	} else {
		prev.next = m
	}
	q.pendCount++
}

func (q *queue) popPending() *msg {
	m := q.pendHead
	if m != nil {
		q.pendHead = m.next
		m.next = nil
		q.pendCount--
	}
	return m
}

// Queue is an open descriptor onto a named message queue. Close does not
// interrupt operations already blocked through the descriptor; they hold the
// underlying queue alive and complete normally.
type Queue struct {
	n      *Nucleus
	node   *regNode
	q      *queue
	flags  OpenFlag
	closed bool
}

// OpenQueue opens, and with OpenCreate possibly creates, the named message
// queue. A nil attr selects the defaults (10 messages of 8 KiB). Creation
// allocates the whole buffer pool up front; the name is reserved while that
// happens, and concurrent opens of it wait for the outcome. Creating from a
// context that may not block fails with ErrPermissionDenied; attaching to an
// existing queue is allowed anywhere.
func (x *Nucleus) OpenQueue(name string, flags OpenFlag, attr *QueueAttr) (*Queue, error) {
	if err := x.admit(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty queue name", ErrInvalidArgument)
	}
	if flags&^openAll != 0 {
		return nil, fmt.Errorf("%w: unknown open flags 0x%x", ErrInvalidArgument, uint32(flags&^openAll))
	}
	if flags&(OpenRead|OpenWrite) == 0 {
		return nil, fmt.Errorf("%w: need OpenRead or OpenWrite", ErrInvalidArgument)
	}
	if flags&OpenExclusive != 0 && flags&OpenCreate == 0 {
		return nil, fmt.Errorf("%w: OpenExclusive requires OpenCreate", ErrInvalidArgument)
	}

	x.mu.Lock()
	cur, blockable := x.callerLocked()
	var w *waiter
	for {
		if x.state.Load() != StateActive {
			x.mu.Unlock()
			return nil, ErrObjectDestroyed
		}
		node := x.queues.lookup(name)
		if node == nil {
			break
		}
		if node.obj == nil {
			// Creation in flight elsewhere; wait for finish or rollback and
			// re-evaluate.
			if !blockable {
				x.mu.Unlock()
				return nil, fmt.Errorf("%w: queue %q creation in progress", ErrBusy, name)
			}
			if w == nil {
				w = x.waiterLocked(cur)
			}
			if x.sleepOn(&node.done, w, NoDeadline()) == wakeInterrupt {
				x.mu.Unlock()
				return nil, ErrInterrupted
			}
			continue
		}
		if flags&OpenExclusive != 0 {
			x.mu.Unlock()
			return nil, fmt.Errorf("%w: queue %q exists", ErrBusy, name)
		}
		node.refs++
		d := &Queue{n: x, node: node, q: node.obj, flags: flags}
		x.mu.Unlock()
		return d, nil
	}

	if flags&OpenCreate == 0 {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: queue %q", ErrNoSuchObject, name)
	}
	if !blockable {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: queue creation from a non-blockable context", ErrPermissionDenied)
	}
	maxMessages, messageSize := defaultQueueMessages, defaultQueueSize
	if attr != nil {
		if attr.MaxMessages <= 0 || attr.MessageSize <= 0 {
			x.mu.Unlock()
			return nil, fmt.Errorf("%w: non-positive queue capacity", ErrInvalidArgument)
		}
		maxMessages, messageSize = attr.MaxMessages, attr.MessageSize
	}
	if int64(messageSize) > maxQueueSlab/int64(maxMessages) {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: queue %q pool of %d x %d bytes", ErrNoSpace, name, maxMessages, messageSize)
	}
	slab := int64(maxMessages) * int64(messageSize)
	if !x.chargeLocked(slab) {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: queue %q needs %d bytes", ErrNoSpace, name, slab)
	}
	node := x.queues.reserve(name)
	x.mu.Unlock()

	// The reservation holds the name while the pool is allocated unlocked.
	q := newQueue(name, maxMessages, messageSize)

	x.mu.Lock()
	if x.state.Load() != StateActive {
		x.releaseLocked(slab)
		x.queues.forceRemove(node)
		x.mu.Unlock()
		return nil, ErrObjectDestroyed
	}
	x.queues.finish(node, q)
	node.refs = 1
	d := &Queue{n: x, node: node, q: q, flags: flags}
	x.mu.Unlock()

	x.logger.Trace().
		Str("queue", name).
		Int("maxMessages", maxMessages).
		Int("messageSize", messageSize).
		Log("nucleus: queue created")
	return d, nil
}

// UnlinkQueue removes the name binding. The queue itself is destroyed once
// the last descriptor closes; opens of the name after unlink no longer reach
// it. Unlinking a name whose creation is still in flight fails with ErrBusy.
func (x *Nucleus) UnlinkQueue(name string) error {
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	node := x.queues.lookup(name)
	if node == nil {
		return fmt.Errorf("%w: queue %q", ErrNoSuchObject, name)
	}
	if node.obj == nil {
		return fmt.Errorf("%w: queue %q creation in progress", ErrBusy, name)
	}
	node.unlinked = true
	x.queues.remove(node)
	if node.refs == 0 {
		x.destroyQueueLocked(node.obj)
	}
	return nil
}

// destroyQueueLocked tears down the shared queue object: blocked contexts
// are released with ErrObjectDestroyed and the pool budget is returned.
func (x *Nucleus) destroyQueueLocked(q *queue) {
	if q.destroyed {
		return
	}
	q.destroyed = true
	q.notify = nil
	q.notifyOn = nil
	q.senders.destroy()
	q.receivers.destroy()
	x.releaseLocked(int64(q.maxMessages) * int64(q.messageSize))
}

// unrefQueueLocked drops one reference; the last reference to an unlinked
// queue destroys it.
func (x *Nucleus) unrefQueueLocked(node *regNode) {
	node.refs--
	if node.refs == 0 && node.unlinked && node.obj != nil {
		x.destroyQueueLocked(node.obj)
	}
}

// Close invalidates the descriptor, dropping its reference and any
// notification registration it holds.
func (d *Queue) Close() error {
	if d == nil || d.n == nil {
		return ErrNoSuchObject
	}
	x := d.n
	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: descriptor already closed", ErrNoSuchObject)
	}
	d.closed = true
	if q := d.node.obj; q != nil && q.notifyOn == d {
		q.notify = nil
		q.notifyOn = nil
	}
	x.unrefQueueLocked(d.node)
	return nil
}

// Send enqueues a message. See TimedSend.
func (d *Queue) Send(data []byte, prio uint) error {
	return d.TimedSend(data, prio, NoDeadline())
}

// TimedSend enqueues a message, blocking while the pool is exhausted unless
// the descriptor is non-blocking.
//
// When a receiver is already blocked, the highest-priority one takes the
// message by direct copy into its buffer and the pool is never touched.
// Otherwise the message is queued in priority order, FIFO among equals. A
// send that makes the queue non-empty with no receiver waiting fires the
// armed notification, if any.
func (d *Queue) TimedSend(data []byte, prio uint, dl Deadline) error {
	if d == nil || d.n == nil {
		return ErrNoSuchObject
	}
	x := d.n
	if err := x.admit(); err != nil {
		return err
	}
	if !dl.valid() {
		return fmt.Errorf("%w: bad deadline clock", ErrInvalidArgument)
	}
	if prio >= MaxMessagePriority {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalidArgument, prio)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: descriptor closed", ErrNoSuchObject)
	}
	if d.flags&OpenWrite == 0 {
		return fmt.Errorf("%w: descriptor not open for writing", ErrPermissionDenied)
	}
	q := d.q
	if len(data) > q.messageSize {
		return fmt.Errorf("%w: %d bytes exceeds message size %d", ErrMessageTooLarge, len(data), q.messageSize)
	}

	cur, blockable := x.callerLocked()
	d.node.refs++
	defer x.unrefQueueLocked(d.node)

	dl = dl.fix(&x.clk)
	var w *waiter
	var expired bool
	for {
		if q.destroyed {
			return ErrObjectDestroyed
		}
		if rw := q.receivers.wakeOne(); rw != nil {
			// Direct handoff: fill the receiver's buffer while it is still
			// parked; it cannot resume until the lock drops.
			rw.direct.n = copy(rw.direct.dst, data)
			rw.direct.prio = prio
			rw.direct.used = true
			return nil
		}
		if m := q.allocMsg(); m != nil {
			m.len = copy(m.data, data)
			m.prio = prio
			wasEmpty := q.pendHead == nil
			q.insertPending(m)
			if wasEmpty && q.notify != nil {
				fn := q.notify
				q.notify = nil
				q.notifyOn = nil
				x.runNonBlockable(fn)
			}
			return nil
		}
		if d.flags&OpenNonBlocking != 0 {
			return fmt.Errorf("%w: queue %q full", ErrWouldBlock, q.name)
		}
		if expired {
			return ErrTimedOut
		}
		if !blockable {
			return ErrPermissionDenied
		}
		if w == nil {
			w = x.waiterLocked(cur)
		}
		switch x.sleepOn(&q.senders, w, dl) {
		case wakeInterrupt:
			return ErrInterrupted
		case wakeDestroyed:
			return ErrObjectDestroyed
		case wakeTimeout:
			// One more pass at the ground truth; success beats the deadline.
			expired = true
		}
	}
}

// Receive dequeues the highest-priority message. See TimedReceive.
func (d *Queue) Receive(buf []byte) (n int, prio uint, err error) {
	return d.TimedReceive(buf, NoDeadline())
}

// TimedReceive dequeues the oldest highest-priority message into buf,
// returning its length and priority. buf must hold the queue's full message
// size. While the queue is empty the call blocks unless the descriptor is
// non-blocking; a blocked receiver may instead be handed a message directly
// by a sender, bypassing the pool.
func (d *Queue) TimedReceive(buf []byte, dl Deadline) (int, uint, error) {
	if d == nil || d.n == nil {
		return 0, 0, ErrNoSuchObject
	}
	x := d.n
	if err := x.admit(); err != nil {
		return 0, 0, err
	}
	if !dl.valid() {
		return 0, 0, fmt.Errorf("%w: bad deadline clock", ErrInvalidArgument)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return 0, 0, fmt.Errorf("%w: descriptor closed", ErrNoSuchObject)
	}
	if d.flags&OpenRead == 0 {
		return 0, 0, fmt.Errorf("%w: descriptor not open for reading", ErrPermissionDenied)
	}
	q := d.q
	if buf == nil {
		return 0, 0, fmt.Errorf("%w: nil receive buffer", ErrFault)
	}
	if len(buf) < q.messageSize {
		return 0, 0, fmt.Errorf("%w: buffer %d smaller than message size %d", ErrMessageTooLarge, len(buf), q.messageSize)
	}

	cur, blockable := x.callerLocked()
	d.node.refs++
	defer x.unrefQueueLocked(d.node)

	dl = dl.fix(&x.clk)
	var w *waiter
	var expired bool
	for {
		if q.destroyed {
			return 0, 0, ErrObjectDestroyed
		}
		if m := q.popPending(); m != nil {
			n := copy(buf, m.data[:m.len])
			prio := m.prio
			q.releaseMsg(m)
			q.senders.wakeOne()
			return n, prio, nil
		}
		if d.flags&OpenNonBlocking != 0 {
			return 0, 0, fmt.Errorf("%w: queue %q empty", ErrWouldBlock, q.name)
		}
		if expired {
			return 0, 0, ErrTimedOut
		}
		if !blockable {
			return 0, 0, ErrPermissionDenied
		}
		if w == nil {
			w = x.waiterLocked(cur)
		}
		w.direct.arm(buf)
		disp := x.sleepOn(&q.receivers, w, dl)
		if w.direct.used {
			// A sender completed the handoff; that outcome wins over any
			// concurrently delivered disposition.
			n, prio := w.direct.n, w.direct.prio
			w.direct.reset()
			return n, prio, nil
		}
		w.direct.reset()
		switch disp {
		case wakeInterrupt:
			return 0, 0, ErrInterrupted
		case wakeDestroyed:
			return 0, 0, ErrObjectDestroyed
		case wakeTimeout:
			expired = true
		}
	}
}

// Notify arms one-shot notification on the queue: when a send makes it
// non-empty and no receiver is blocked, fn runs once on its own goroutine
// and the registration clears. fn executes in a non-blockable context, so
// blocking nucleus operations and notification changes inside it fail with
// ErrPermissionDenied; non-blocking receives are the intended drain.
//
// Only one registration exists per queue at a time; competing registrations
// fail with ErrBusy. A nil fn disarms a registration held by this
// descriptor.
func (d *Queue) Notify(fn func()) error {
	if d == nil || d.n == nil {
		return ErrNoSuchObject
	}
	x := d.n
	if err := x.admit(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: descriptor closed", ErrNoSuchObject)
	}
	q := d.q
	if q.destroyed {
		return ErrObjectDestroyed
	}
	if _, blockable := x.callerLocked(); !blockable {
		return fmt.Errorf("%w: notification change from a non-blockable context", ErrPermissionDenied)
	}
	if fn == nil {
		if q.notifyOn == d {
			q.notify = nil
			q.notifyOn = nil
			return nil
		}
		if q.notifyOn != nil {
			return fmt.Errorf("%w: queue %q notification held elsewhere", ErrBusy, q.name)
		}
		return nil
	}
	if q.notifyOn != nil {
		return fmt.Errorf("%w: queue %q notification already armed", ErrBusy, q.name)
	}
	q.notify = fn
	q.notifyOn = d
	return nil
}

// Attr returns the queue's fixed attributes together with the descriptor's
// non-blocking flag and the current pending-message count.
func (d *Queue) Attr() (QueueAttr, error) {
	if d == nil || d.n == nil {
		return QueueAttr{}, ErrNoSuchObject
	}
	x := d.n
	if err := x.admit(); err != nil {
		return QueueAttr{}, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return QueueAttr{}, fmt.Errorf("%w: descriptor closed", ErrNoSuchObject)
	}
	return QueueAttr{
		MaxMessages:     d.q.maxMessages,
		MessageSize:     d.q.messageSize,
		Flags:           d.flags & OpenNonBlocking,
		CurrentMessages: d.q.pendCount,
	}, nil
}

// SetAttr updates the descriptor's non-blocking flag and returns the
// previous attributes. Capacity and message size are fixed at creation;
// flags other than OpenNonBlocking are invalid here.
func (d *Queue) SetAttr(attr QueueAttr) (QueueAttr, error) {
	if d == nil || d.n == nil {
		return QueueAttr{}, ErrNoSuchObject
	}
	x := d.n
	if err := x.admit(); err != nil {
		return QueueAttr{}, err
	}
	if attr.Flags&^OpenNonBlocking != 0 {
		return QueueAttr{}, fmt.Errorf("%w: only OpenNonBlocking may be set", ErrInvalidArgument)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if d.closed {
		return QueueAttr{}, fmt.Errorf("%w: descriptor closed", ErrNoSuchObject)
	}
	old := QueueAttr{
		MaxMessages:     d.q.maxMessages,
		MessageSize:     d.q.messageSize,
		Flags:           d.flags & OpenNonBlocking,
		CurrentMessages: d.q.pendCount,
	}
	d.flags = d.flags&^OpenNonBlocking | attr.Flags&OpenNonBlocking
	return old, nil
}
