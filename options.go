package nucleus

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// nucleusOptions holds configuration options for Nucleus creation.
type nucleusOptions struct {
	logger          *logiface.Logger[logiface.Event]
	blueprint       *Blueprint
	memoryBudget    int64
	defaultPriority int
}

// Option configures a Nucleus instance.
type Option interface {
	applyNucleus(*nucleusOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyNucleusFunc func(*nucleusOptions) error
}

func (o *optionImpl) applyNucleus(opts *nucleusOptions) error {
	return o.applyNucleusFunc(opts)
}

// WithLogger attaches a structured logger. Nucleus logs lifecycle events at
// debug and trace levels and teardown anomalies at warning; a nil logger
// disables logging entirely.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *nucleusOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMemoryBudget caps the total bytes of message-pool backing store the
// instance may hold at once. Queue creation beyond the budget fails with
// ErrNoSpace. Zero (the default) means unlimited.
func WithMemoryBudget(bytes int64) Option {
	return &optionImpl{func(opts *nucleusOptions) error {
		if bytes < 0 {
			return fmt.Errorf("%w: negative memory budget %d", ErrInvalidArgument, bytes)
		}
		opts.memoryBudget = bytes
		return nil
	}}
}

// WithDefaultPriority sets the priority assumed for anonymous contexts and
// for threads created without an explicit priority.
func WithDefaultPriority(prio int) Option {
	return &optionImpl{func(opts *nucleusOptions) error {
		if prio < 0 {
			return fmt.Errorf("%w: negative priority %d", ErrInvalidArgument, prio)
		}
		opts.defaultPriority = prio
		return nil
	}}
}

// WithBlueprint pre-creates the objects a blueprint declares during New.
// Creation failures roll back objects created so far and fail New.
func WithBlueprint(b *Blueprint) Option {
	return &optionImpl{func(opts *nucleusOptions) error {
		opts.blueprint = b
		return nil
	}}
}

// resolveOptions applies Option instances to nucleusOptions.
func resolveOptions(opts []Option) (*nucleusOptions, error) {
	cfg := &nucleusOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyNucleus(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
