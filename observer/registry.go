// Package observer keeps the set of handles subscribed to one channel and
// fans notifications out to them.
//
// Entries expire unless they are re-added within the configured timeout.
// Expired entries are pruned lazily at the start of each broadcast, and an
// observer whose delivery fails is dropped on the spot. Deliveries run on a
// worker pool so a slow observer never stalls the owning channel.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/najoast/observe/core"
)

// ErrObserverUnreachable marks a delivery that could not reach its observer.
var ErrObserverUnreachable = errors.New("observer unreachable")

// DefaultWorkers is the pool size used when a Registry creates its own pool.
const DefaultWorkers = 16

// DeliverFunc pushes one notification to one observer.
type DeliverFunc func(ctx context.Context, h core.Handle) error

// EvictReason tells why an observer left the registry without unsubscribing.
type EvictReason uint8

const (
	EvictExpired EvictReason = iota + 1
	EvictUnreachable
)

// String returns the reason name.
func (r EvictReason) String() string {
	switch r {
	case EvictExpired:
		return "expired"
	case EvictUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// EvictFunc is notified when an observer is evicted.
type EvictFunc func(h core.Handle, reason EvictReason)

// Options configures a Registry.
type Options struct {
	// Timeout after which an entry that was not re-added expires. Zero or
	// negative disables expiry.
	Timeout time.Duration

	// Pool runs deliveries. When nil the registry creates and owns one.
	Pool *ants.Pool

	Logger *zap.Logger
}

// Registry is a set of observer handles keyed by handle ID.
type Registry struct {
	entries *ttlcache.Cache[uint32, core.Handle]
	timeout atomic.Int64

	pool     *ants.Pool
	ownsPool bool

	evictMu sync.RWMutex
	onEvict []EvictFunc

	logger *zap.Logger
	closed atomic.Bool
}

// NewPool creates a delivery pool. Up to queue submissions wait for a free
// worker; beyond that Broadcast runs the delivery on its own goroutine.
func NewPool(workers, queue int, logger *zap.Logger) (*ants.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool, err := ants.NewPool(workers,
		ants.WithMaxBlockingTasks(queue),
		ants.WithPanicHandler(func(p any) {
			logger.Error("delivery worker panicked", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pool: %w", err)
	}
	return pool, nil
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		entries: ttlcache.New[uint32, core.Handle](
			ttlcache.WithDisableTouchOnHit[uint32, core.Handle](),
		),
		pool:   opts.Pool,
		logger: logger,
	}
	r.timeout.Store(int64(opts.Timeout))

	if r.pool == nil {
		pool, err := NewPool(DefaultWorkers, 0, logger)
		if err != nil {
			return nil, err
		}
		r.pool = pool
		r.ownsPool = true
	}

	r.entries.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint32, core.Handle]) {
		if reason == ttlcache.EvictionReasonExpired {
			r.notifyEvict(item.Value(), EvictExpired)
		}
	})

	return r, nil
}

// SetTimeout changes the expiry window. Entries already present keep their
// deadline until they are re-added.
func (r *Registry) SetTimeout(d time.Duration) {
	r.timeout.Store(int64(d))
}

// Timeout returns the current expiry window.
func (r *Registry) Timeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

func (r *Registry) ttl() time.Duration {
	if d := r.Timeout(); d > 0 {
		return d
	}
	return ttlcache.NoTTL
}

// Add registers h, or refreshes its deadline if it is already present.
func (r *Registry) Add(h core.Handle) {
	r.entries.Set(h.ID, h, r.ttl())
}

// Remove drops h. Removing an absent handle does nothing.
func (r *Registry) Remove(h core.Handle) {
	r.entries.Delete(h.ID)
}

// Contains reports whether h is registered and not yet expired.
func (r *Registry) Contains(h core.Handle) bool {
	return r.entries.Get(h.ID) != nil
}

// Len returns the number of entries. Expired entries are counted until the
// next broadcast prunes them.
func (r *Registry) Len() int {
	return r.entries.Len()
}

// Handles returns the live handles ordered by ID.
func (r *Registry) Handles() []core.Handle {
	items := r.entries.Items()
	handles := make([]core.Handle, 0, len(items))
	for _, item := range items {
		if item.IsExpired() {
			continue
		}
		handles = append(handles, item.Value())
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles
}

// OnEvict registers fn to be told about expired and unreachable observers.
func (r *Registry) OnEvict(fn EvictFunc) {
	r.evictMu.Lock()
	defer r.evictMu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

// Broadcast prunes expired entries and then hands deliver to the pool once
// per remaining observer. It does not wait for the deliveries. An observer
// whose delivery returns an error or panics is removed.
func (r *Registry) Broadcast(ctx context.Context, deliver DeliverFunc) *Delivery {
	r.entries.DeleteExpired()

	targets := r.Handles()
	d := &Delivery{total: len(targets)}
	d.wg.Add(len(targets))

	for _, h := range targets {
		h := h
		task := func() {
			defer d.wg.Done()
			r.deliverOne(ctx, deliver, h, d)
		}

		if r.closed.Load() {
			go task()
			continue
		}
		if err := r.pool.Submit(task); err != nil {
			r.logger.Debug("delivery pool saturated", zap.Error(err))
			go task()
		}
	}

	return d
}

func (r *Registry) deliverOne(ctx context.Context, deliver DeliverFunc, h core.Handle, d *Delivery) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: delivery panicked: %v", ErrObserverUnreachable, p)
			}
		}()
		return deliver(ctx, h)
	}()

	if err == nil {
		d.delivered.Add(1)
		return
	}

	d.evicted.Add(1)
	r.entries.Delete(h.ID)
	r.logger.Debug("observer evicted",
		zap.Stringer("observer", h),
		zap.Stringer("reason", EvictUnreachable),
		zap.Error(err))
	r.notifyEvict(h, EvictUnreachable)
}

func (r *Registry) notifyEvict(h core.Handle, reason EvictReason) {
	r.evictMu.RLock()
	fns := make([]EvictFunc, len(r.onEvict))
	copy(fns, r.onEvict)
	r.evictMu.RUnlock()

	for _, fn := range fns {
		fn(h, reason)
	}
}

// Close drops every entry and releases the pool if the registry owns it.
// Deliveries already submitted still run.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.entries.DeleteAll()
	if r.ownsPool {
		r.pool.Release()
	}
}

// Delivery tracks the deliveries started by one Broadcast.
type Delivery struct {
	wg        sync.WaitGroup
	total     int
	delivered atomic.Int64
	evicted   atomic.Int64
}

// Wait blocks until every delivery has finished.
func (d *Delivery) Wait() {
	d.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (d *Delivery) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Total is the number of observers the broadcast targeted.
func (d *Delivery) Total() int { return d.total }

// Delivered is the number of successful deliveries so far.
func (d *Delivery) Delivered() int { return int(d.delivered.Load()) }

// Evicted is the number of observers dropped by this broadcast so far.
func (d *Delivery) Evicted() int { return int(d.evicted.Load()) }
