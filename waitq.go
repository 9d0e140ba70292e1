package nucleus

import (
	"container/heap"
)

// directMsg is the typed rendezvous a blocked receiver publishes through its
// wait entry. A matched sender copies straight into dst and marks the record
// used, bypassing the message pool. Both sides only touch it under the
// nucleus lock.
type directMsg struct {
	dst   []byte
	n     int
	prio  uint
	armed bool
	used  bool
}

func (m *directMsg) arm(dst []byte) {
	m.dst = dst
	m.n = 0
	m.prio = 0
	m.armed = true
	m.used = false
}

func (m *directMsg) reset() {
	*m = directMsg{}
}

// waiter is one blocked context's entry on a wait queue. Threads embed a
// reusable waiter; anonymous contexts allocate one per sleep. The signal
// channel has capacity one so wakers never block, and sleep drains any stale
// signal before the entry is reused.
type waiter struct {
	signal chan struct{}
	owner  *Thread // nil for anonymous contexts
	wq     *waitQueue
	direct directMsg
	seq    uint64
	prio   int
	index  int
	disp   disposition
}

func newWaiter(owner *Thread, prio int) *waiter {
	return &waiter{
		signal: make(chan struct{}, 1),
		owner:  owner,
		prio:   prio,
		index:  -1,
	}
}

// queued reports whether the entry currently sits on a wait queue.
func (w *waiter) queued() bool { return w.wq != nil }

// waitQueue orders blocked contexts by priority, FIFO among equals. It is a
// pure ordering structure; blocking behavior lives in synchro.
type waitQueue struct {
	h   waitHeap
	seq uint64
}

// enqueue inserts w. The entry must not already be queued.
func (q *waitQueue) enqueue(w *waiter) {
	q.seq++
	w.seq = q.seq
	w.wq = q
	heap.Push(&q.h, w)
}

// remove takes a specific entry off the queue. Returns false if the entry is
// not queued here, which a racing waker may have arranged already.
func (q *waitQueue) remove(w *waiter) bool {
	if w.wq != q || w.index < 0 {
		return false
	}
	heap.Remove(&q.h, w.index)
	w.wq = nil
	return true
}

// pop removes and returns the highest-priority entry, or nil when empty.
func (q *waitQueue) pop() *waiter {
	if len(q.h) == 0 {
		return nil
	}
	w := heap.Pop(&q.h).(*waiter)
	w.wq = nil
	return w
}

func (q *waitQueue) empty() bool { return len(q.h) == 0 }

func (q *waitQueue) len() int { return len(q.h) }

// waitHeap implements heap.Interface. Ties on priority resolve by sequence
// number, preserving arrival order among equals.
type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio > h[j].prio
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
