package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/najoast/observe/config"
)

// Resubscriber errors
var (
	ErrResubscriberClosed = errors.New("resubscriber closed")
	ErrNoAction           = errors.New("no resubscription action registered")
	ErrRateLimited        = errors.New("resubscription rate limited")
)

// Action re-establishes one subscription.
type Action func(ctx context.Context) error

type resubscription struct {
	action  Action
	limiter *rate.Limiter
}

// Resubscriber stores one action per subscription and runs it on demand.
// Each key has its own limiter so a burst of unreachable signals cannot
// hammer the channel.
type Resubscriber struct {
	mu      sync.Mutex
	actions map[Key]*resubscription
	closed  bool

	limit  rate.Limit
	burst  int
	logger *zap.Logger
}

// NewResubscriber creates a resubscriber limited by the client settings.
func NewResubscriber(cfg config.ClientConfig, logger *zap.Logger) *Resubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.ResubscribeMinInterval > 0 {
		limit = rate.Every(cfg.ResubscribeMinInterval)
	}
	burst := cfg.ResubscribeBurst
	if burst <= 0 {
		burst = 1
	}

	return &Resubscriber{
		actions: make(map[Key]*resubscription),
		limit:   limit,
		burst:   burst,
		logger:  logger,
	}
}

// Register stores action under key, replacing any earlier one.
func (r *Resubscriber) Register(key Key, action Action) error {
	if action == nil {
		return fmt.Errorf("nil resubscription action for %s", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrResubscriberClosed
	}
	r.actions[key] = &resubscription{
		action:  action,
		limiter: rate.NewLimiter(r.limit, r.burst),
	}
	return nil
}

// Invoke runs the action stored under key once. It does not retry.
func (r *Resubscriber) Invoke(ctx context.Context, key Key) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrResubscriberClosed
	}
	entry, ok := r.actions[key]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAction, key)
	}
	return r.run(ctx, key, entry)
}

// InvokeAll runs every stored action once and returns the failures by key.
func (r *Resubscriber) InvokeAll(ctx context.Context) map[Key]error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	entries := make(map[Key]*resubscription, len(r.actions))
	for key, entry := range r.actions {
		entries[key] = entry
	}
	r.mu.Unlock()

	var failures map[Key]error
	for key, entry := range entries {
		if err := r.run(ctx, key, entry); err != nil {
			if failures == nil {
				failures = make(map[Key]error)
			}
			failures[key] = err
		}
	}
	return failures
}

func (r *Resubscriber) run(ctx context.Context, key Key, entry *resubscription) (err error) {
	if !entry.limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("resubscription of %s panicked: %v", key, p)
		}
		if err != nil {
			r.logger.Warn("resubscription failed", zap.Stringer("subscription", key), zap.Error(err))
		} else {
			r.logger.Debug("resubscribed", zap.Stringer("subscription", key))
		}
	}()

	return entry.action(ctx)
}

// Clear removes the action stored under key.
func (r *Resubscriber) Clear(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actions, key)
}

// Len returns the number of stored actions.
func (r *Resubscriber) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// Close drops every action. Later registrations fail.
func (r *Resubscriber) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.actions = make(map[Key]*resubscription)
}
