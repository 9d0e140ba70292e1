package nucleus

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ThreadInfo is one thread's row in a Snapshot.
type ThreadInfo struct {
	Name     string
	Priority int
	State    ThreadState
	Mode     Mode
	Detached bool
	Periodic bool
	Overruns uint64
	Joiners  int
}

// QueueInfo is one message queue's row in a Snapshot.
type QueueInfo struct {
	Name        string
	MaxMessages int
	MessageSize int
	Pending     int
	Refs        int
	Senders     int
	Receivers   int
	Unlinked    bool
	Notify      bool
}

// MailboxInfo is one mailbox's row in a Snapshot.
type MailboxInfo struct {
	Name    string
	Full    bool
	Penders int
}

// Snapshot is a consistent point-in-time view of an instance, taken in one
// lock hold. Threads appear in registration order; queues and mailboxes in
// name order.
type Snapshot struct {
	State     NucleusState
	Allocated int64
	Budget    int64
	Reclaims  uint64
	Threads   []ThreadInfo
	Queues    []QueueInfo
	Mailboxes []MailboxInfo
}

// Snapshot captures the current registries and accounting.
func (x *Nucleus) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	s := Snapshot{
		State:     x.state.Load(),
		Allocated: x.allocated,
		Budget:    x.budget,
		Reclaims:  x.reclaims,
	}

	for _, t := range x.threads {
		info := ThreadInfo{
			Name:     t.name,
			Priority: t.prio,
			State:    t.state,
			Mode:     t.mode,
			Detached: t.detached,
			Periodic: t.periodic != nil,
			Joiners:  t.joiners.wq.len(),
		}
		if t.periodic != nil {
			info.Overruns = t.periodic.overruns
		}
		s.Threads = append(s.Threads, info)
	}

	for _, node := range x.queues.snapshot() {
		q := node.obj
		if q == nil {
			continue
		}
		s.Queues = append(s.Queues, QueueInfo{
			Name:        node.name,
			MaxMessages: q.maxMessages,
			MessageSize: q.messageSize,
			Pending:     q.pendCount,
			Refs:        node.refs,
			Senders:     q.senders.wq.len(),
			Receivers:   q.receivers.wq.len(),
			Unlinked:    node.unlinked,
			Notify:      q.notifyOn != nil,
		})
	}

	names := maps.Keys(x.mailboxes)
	slices.Sort(names)
	for _, name := range names {
		mb := x.mailboxes[name]
		s.Mailboxes = append(s.Mailboxes, MailboxInfo{
			Name:    name,
			Full:    mb.full,
			Penders: mb.pend.wq.len(),
		})
	}

	return s
}

func flagList(pairs ...string) string {
	var set []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			set = append(set, pairs[i])
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, ",")
}

func mark(b bool) string {
	if b {
		return "y"
	}
	return ""
}

// WriteTo renders the snapshot as fixed-width tables.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	var total int64
	pr := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}

	budget := "unlimited"
	if s.Budget > 0 {
		budget = fmt.Sprintf("%d", s.Budget)
	}
	if err := pr("state=%s allocated=%d budget=%s reclaims=%d\n", s.State, s.Allocated, budget, s.Reclaims); err != nil {
		return total, err
	}

	if len(s.Threads) > 0 {
		if err := pr("\n%-16s %4s  %-9s %-10s %7s %7s  %s\n", "THREAD", "PRIO", "STATE", "MODE", "JOINERS", "OVERRUN", "FLAGS"); err != nil {
			return total, err
		}
		for _, t := range s.Threads {
			flags := flagList("detached", mark(t.Detached), "periodic", mark(t.Periodic))
			if err := pr("%-16s %4d  %-9s %-10s %7d %7d  %s\n",
				t.Name, t.Priority, t.State, t.Mode, t.Joiners, t.Overruns, flags); err != nil {
				return total, err
			}
		}
	}

	if len(s.Queues) > 0 {
		if err := pr("\n%-16s %5s %6s %5s %5s %5s %5s  %s\n", "QUEUE", "MAX", "SIZE", "PEND", "REFS", "SENDQ", "RECVQ", "FLAGS"); err != nil {
			return total, err
		}
		for _, q := range s.Queues {
			flags := flagList("unlinked", mark(q.Unlinked), "notify", mark(q.Notify))
			if err := pr("%-16s %5d %6d %5d %5d %5d %5d  %s\n",
				q.Name, q.MaxMessages, q.MessageSize, q.Pending, q.Refs, q.Senders, q.Receivers, flags); err != nil {
				return total, err
			}
		}
	}

	if len(s.Mailboxes) > 0 {
		if err := pr("\n%-16s %4s %7s\n", "MAILBOX", "FULL", "PENDERS"); err != nil {
			return total, err
		}
		for _, mb := range s.Mailboxes {
			full := "no"
			if mb.Full {
				full = "yes"
			}
			if err := pr("%-16s %4s %7d\n", mb.Name, full, mb.Penders); err != nil {
				return total, err
			}
		}
	}

	return total, nil
}

// String renders the snapshot as WriteTo would.
func (s Snapshot) String() string {
	var sb strings.Builder
	_, _ = s.WriteTo(&sb)
	return sb.String()
}
