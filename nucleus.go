package nucleus

import (
	"context"
	"runtime"
	"sync"

	"github.com/joeycumines/logiface"
)

// Nucleus is an instance of the thread and IPC nucleus. Create one with New
// and dispose of it with Shutdown. The zero value is not usable.
type Nucleus struct {
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	mu sync.Mutex

	// Thread registry: every control object, plus the goroutine-id index for
	// Self and the non-blockable marks for callback contexts.
	threads []*Thread
	byGID   map[uint64]*Thread
	noBlock map[uint64]struct{}

	// Named-object registries.
	queues    registry
	mailboxes map[string]*mailbox

	clk clock

	// Pool memory accounting; budget 0 means unlimited.
	budget    int64
	allocated int64

	defaultPrio int
	threadSeq   uint64
	reclaims    uint64 // reclaimed control objects, for teardown accounting

	wg       sync.WaitGroup // attached goroutines
	stopOnce sync.Once

	state lifeState
}

// New creates a Nucleus instance. A nil or absent logger disables logging.
func New(opts ...Option) (*Nucleus, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	x := &Nucleus{
		logger:      cfg.logger,
		byGID:       make(map[uint64]*Thread),
		noBlock:     make(map[uint64]struct{}),
		mailboxes:   make(map[string]*mailbox),
		clk:         newClock(),
		budget:      cfg.memoryBudget,
		defaultPrio: cfg.defaultPriority,
	}
	x.queues.init()

	if cfg.blueprint != nil {
		if err := x.applyBlueprint(cfg.blueprint); err != nil {
			return nil, err
		}
	}

	x.logger.Debug().
		Int64("memoryBudget", x.budget).
		Int("defaultPriority", x.defaultPrio).
		Log("nucleus: initialized")

	return x, nil
}

// State returns the lifecycle state of the instance.
func (x *Nucleus) State() NucleusState {
	return x.state.Load()
}

// admit rejects operations on an instance that is shutting down or gone.
func (x *Nucleus) admit() error {
	if x.state.Load() != StateActive {
		return ErrObjectDestroyed
	}
	return nil
}

// Shutdown tears the instance down: every still-registered queue and mailbox
// is forcibly unlinked and destroyed, every still-registered thread is
// cancelled and its sleeps interrupted, and then Shutdown waits, bounded by
// ctx, for attached goroutines to drain. Reclamation of forgotten objects is
// best-effort and non-fatal. Shutdown is idempotent; operations issued after
// it begins fail with ErrObjectDestroyed.
func (x *Nucleus) Shutdown(ctx context.Context) error {
	var result error
	x.stopOnce.Do(func() {
		result = x.shutdownImpl(ctx)
	})
	if result == nil && !x.state.IsTerminal() {
		return ErrObjectDestroyed
	}
	return result
}

type forcedCleanup struct {
	kind string
	name string
	refs int
}

func (x *Nucleus) shutdownImpl(ctx context.Context) error {
	x.state.TryTransition(StateActive, StateShuttingDown)

	x.mu.Lock()

	var forced []forcedCleanup

	for _, node := range x.queues.snapshot() {
		q := node.obj
		if q == nil {
			continue
		}
		forced = append(forced, forcedCleanup{kind: "queue", name: node.name, refs: node.refs})
		x.queues.forceRemove(node)
		x.destroyQueueLocked(q)
	}

	for name, mb := range x.mailboxes {
		if n := mb.pend.destroy(); n > 0 || mb.full {
			forced = append(forced, forcedCleanup{kind: "mailbox", name: name, refs: n})
		}
		delete(x.mailboxes, name)
	}

	for _, t := range append([]*Thread(nil), x.threads...) {
		switch t.state {
		case ThreadZombie, ThreadCreated:
			// Stale control object, or a dormant shadow that never started.
			forced = append(forced, forcedCleanup{kind: "thread", name: t.name})
			x.reclaimLocked(t)
		default:
			forced = append(forced, forcedCleanup{kind: "thread", name: t.name})
			t.detached = true
			t.cancelPending = true
			interruptWaiter(&t.w)
			t.joiners.destroy()
		}
	}

	x.mu.Unlock()

	for _, f := range forced {
		x.logger.Warning().Limit().
			Str("kind", f.kind).
			Str("name", f.name).
			Int("refs", f.refs).
			Log("nucleus: forced cleanup at shutdown")
	}

	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		x.state.Store(StateTerminated)
		return ctx.Err()
	}

	x.state.Store(StateTerminated)
	x.logger.Debug().Log("nucleus: terminated")
	return nil
}

// caller resolves the calling goroutine under the lock: its thread control
// object, if attached, and whether the context may legally block. Callback
// contexts and scheduler-lock holders may not.
func (x *Nucleus) callerLocked() (t *Thread, blockable bool) {
	gid := getGoroutineID()
	t = x.byGID[gid]
	if _, ok := x.noBlock[gid]; ok {
		return t, false
	}
	if t != nil && t.mode&ModeLock != 0 {
		return t, false
	}
	return t, true
}

// runNonBlockable invokes fn on a fresh goroutine marked as a non-blockable
// context: blocking nucleus operations issued from fn fail with
// ErrPermissionDenied. Used for notification delivery.
func (x *Nucleus) runNonBlockable(fn func()) {
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		gid := getGoroutineID()
		x.mu.Lock()
		x.noBlock[gid] = struct{}{}
		x.mu.Unlock()
		defer func() {
			x.mu.Lock()
			delete(x.noBlock, gid)
			x.mu.Unlock()
			if r := recover(); r != nil {
				x.logger.Err().
					Any("recovered", r).
					Log("nucleus: notification callback panicked")
			}
		}()
		fn()
	}()
}

// chargeLocked reserves n bytes of the pool budget.
func (x *Nucleus) chargeLocked(n int64) bool {
	if x.budget > 0 && x.allocated+n > x.budget {
		return false
	}
	x.allocated += n
	return true
}

func (x *Nucleus) releaseLocked(n int64) {
	x.allocated -= n
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
