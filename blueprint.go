package nucleus

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Blueprint declares the objects an instance creates at startup, so static
// IPC topology can live in configuration instead of imperative setup code.
type Blueprint struct {
	// DefaultPriority overrides the instance default when positive.
	DefaultPriority int `json:"defaultPriority,omitempty" yaml:"defaultPriority,omitempty"`
	// MemoryBudget overrides the pool budget when positive.
	MemoryBudget int64            `json:"memoryBudget,omitempty" yaml:"memoryBudget,omitempty"`
	Queues       []BlueprintQueue `json:"queues,omitempty" yaml:"queues,omitempty"`
	Mailboxes    []string         `json:"mailboxes,omitempty" yaml:"mailboxes,omitempty"`
}

// BlueprintQueue declares one message queue. Zero sizes select the defaults.
type BlueprintQueue struct {
	Name        string `json:"name" yaml:"name"`
	MaxMessages int    `json:"maxMessages,omitempty" yaml:"maxMessages,omitempty"`
	MessageSize int    `json:"messageSize,omitempty" yaml:"messageSize,omitempty"`
}

// ParseBlueprint decodes and validates a YAML blueprint document.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("%w: parse blueprint: %w", ErrInvalidArgument, err)
	}
	if err := bp.validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

func (bp *Blueprint) validate() error {
	if bp.DefaultPriority < 0 {
		return fmt.Errorf("%w: negative default priority %d", ErrInvalidArgument, bp.DefaultPriority)
	}
	if bp.MemoryBudget < 0 {
		return fmt.Errorf("%w: negative memory budget %d", ErrInvalidArgument, bp.MemoryBudget)
	}
	queues := make(map[string]struct{}, len(bp.Queues))
	for _, q := range bp.Queues {
		if q.Name == "" {
			return fmt.Errorf("%w: blueprint queue without a name", ErrInvalidArgument)
		}
		if _, ok := queues[q.Name]; ok {
			return fmt.Errorf("%w: duplicate blueprint queue %q", ErrInvalidArgument, q.Name)
		}
		queues[q.Name] = struct{}{}
		if q.MaxMessages < 0 || q.MessageSize < 0 {
			return fmt.Errorf("%w: negative capacity on blueprint queue %q", ErrInvalidArgument, q.Name)
		}
	}
	boxes := make(map[string]struct{}, len(bp.Mailboxes))
	for _, name := range bp.Mailboxes {
		if name == "" {
			return fmt.Errorf("%w: blueprint mailbox without a name", ErrInvalidArgument)
		}
		if _, ok := boxes[name]; ok {
			return fmt.Errorf("%w: duplicate blueprint mailbox %q", ErrInvalidArgument, name)
		}
		boxes[name] = struct{}{}
	}
	return nil
}

// applyBlueprint realizes the declared objects on a fresh instance. Queues
// created before a failure are unlinked again so New either fully applies
// the blueprint or leaves nothing behind.
func (x *Nucleus) applyBlueprint(bp *Blueprint) error {
	if err := bp.validate(); err != nil {
		return err
	}
	if bp.DefaultPriority > 0 {
		x.defaultPrio = bp.DefaultPriority
	}
	if bp.MemoryBudget > 0 {
		x.budget = bp.MemoryBudget
	}

	var created []string
	rollback := func() {
		for _, name := range created {
			_ = x.UnlinkQueue(name)
		}
	}
	for _, q := range bp.Queues {
		attr := QueueAttr{MaxMessages: q.MaxMessages, MessageSize: q.MessageSize}
		if attr.MaxMessages == 0 {
			attr.MaxMessages = defaultQueueMessages
		}
		if attr.MessageSize == 0 {
			attr.MessageSize = defaultQueueSize
		}
		d, err := x.OpenQueue(q.Name, OpenRead|OpenWrite|OpenCreate|OpenExclusive, &attr)
		if err != nil {
			rollback()
			return fmt.Errorf("blueprint queue %q: %w", q.Name, err)
		}
		// The queue outlives the bootstrap descriptor; it stays registered
		// until unlinked.
		if err := d.Close(); err != nil {
			rollback()
			return fmt.Errorf("blueprint queue %q: %w", q.Name, err)
		}
		created = append(created, q.Name)
	}

	x.mu.Lock()
	for _, name := range bp.Mailboxes {
		x.mailboxLocked(name)
	}
	x.mu.Unlock()
	return nil
}
