package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/observe/bootstrap"
)

// Invoker runs every registered resubscription action.
type Invoker interface {
	InvokeAll(ctx context.Context) map[Key]error
}

// Refresher re-registers subscriptions on a fixed interval so the channels
// keep their observers past the observer timeout.
type Refresher struct {
	invoker  Invoker
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr int
}

// NewRefresher creates a refresher. A zero interval disables refreshing.
func NewRefresher(invoker Invoker, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		invoker:  invoker,
		interval: interval,
		logger:   logger,
	}
}

// Run refreshes until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	failures := r.invoker.InvokeAll(ctx)
	for key, err := range failures {
		if errors.Is(err, ErrRateLimited) {
			r.logger.Debug("refresh skipped", zap.Stringer("subscription", key))
			continue
		}
		r.logger.Warn("refresh failed", zap.Stringer("subscription", key), zap.Error(err))
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastErr = len(failures)
	r.mu.Unlock()
}

// Name implements bootstrap.Service.
func (r *Refresher) Name() string {
	return "subscription-refresher"
}

// Start implements bootstrap.Service by running the refresher in the
// background.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("refresher already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.Run(runCtx)
	}()
	return nil
}

// Stop implements bootstrap.Service.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health implements bootstrap.Service.
func (r *Refresher) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := bootstrap.HealthStatus{
		State:     bootstrap.HealthHealthy,
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"interval": r.interval.String(),
			"last_run": r.lastRun,
			"failures": r.lastErr,
		},
	}
	if r.cancel == nil {
		status.State = bootstrap.HealthStopped
	} else if r.lastErr > 0 {
		status.State = bootstrap.HealthUnhealthy
		status.Message = "last refresh had failures"
	}
	return status, nil
}
