package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/observe/core"
)

func handle(id uint32) core.Handle {
	return core.Handle{ID: id, ActorID: core.ActorID(id), IsLocal: true}
}

func newTestRegistry(t *testing.T, timeout time.Duration) *Registry {
	t.Helper()
	r, err := NewRegistry(Options{Timeout: timeout})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// recorder collects the handles a broadcast reached.
type recorder struct {
	mu   sync.Mutex
	seen []uint32
}

func (rec *recorder) deliver(_ context.Context, h core.Handle) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.seen = append(rec.seen, h.ID)
	return nil
}

func (rec *recorder) ids() []uint32 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]uint32, len(rec.seen))
	copy(out, rec.seen)
	return out
}

func TestAddIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, 0)

	r.Add(handle(1))
	r.Add(handle(1))
	r.Add(handle(2))

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains(handle(1)))
	assert.Equal(t, []core.Handle{handle(1), handle(2)}, r.Handles())
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t, 0)
	r.Add(handle(1))

	r.Remove(handle(7))
	assert.Equal(t, 1, r.Len())

	r.Remove(handle(1))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Contains(handle(1)))
}

func TestBroadcastReachesEveryObserver(t *testing.T) {
	r := newTestRegistry(t, 0)
	for id := uint32(1); id <= 5; id++ {
		r.Add(handle(id))
	}

	rec := &recorder{}
	d := r.Broadcast(context.Background(), rec.deliver)
	d.Wait()

	assert.Equal(t, 5, d.Total())
	assert.Equal(t, 5, d.Delivered())
	assert.Equal(t, 0, d.Evicted())
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4, 5}, rec.ids())
}

func TestBroadcastEvictsFailingObserver(t *testing.T) {
	r := newTestRegistry(t, 0)
	for id := uint32(1); id <= 5; id++ {
		r.Add(handle(id))
	}

	var evictedMu sync.Mutex
	var evicted []EvictReason
	r.OnEvict(func(h core.Handle, reason EvictReason) {
		evictedMu.Lock()
		defer evictedMu.Unlock()
		assert.Equal(t, uint32(3), h.ID)
		evicted = append(evicted, reason)
	})

	rec := &recorder{}
	d := r.Broadcast(context.Background(), func(ctx context.Context, h core.Handle) error {
		if h.ID == 3 {
			return ErrObserverUnreachable
		}
		return rec.deliver(ctx, h)
	})
	d.Wait()

	assert.Equal(t, 4, d.Delivered())
	assert.Equal(t, 1, d.Evicted())
	assert.ElementsMatch(t, []uint32{1, 2, 4, 5}, rec.ids())
	assert.False(t, r.Contains(handle(3)))
	assert.Equal(t, 4, r.Len())

	evictedMu.Lock()
	assert.Equal(t, []EvictReason{EvictUnreachable}, evicted)
	evictedMu.Unlock()

	// The next broadcast no longer targets the evicted observer.
	d = r.Broadcast(context.Background(), rec.deliver)
	d.Wait()
	assert.Equal(t, 4, d.Total())
}

func TestBroadcastRecoversPanickingDelivery(t *testing.T) {
	r := newTestRegistry(t, 0)
	r.Add(handle(1))
	r.Add(handle(2))

	d := r.Broadcast(context.Background(), func(_ context.Context, h core.Handle) error {
		if h.ID == 1 {
			panic("boom")
		}
		return nil
	})
	d.Wait()

	assert.Equal(t, 1, d.Delivered())
	assert.Equal(t, 1, d.Evicted())
	assert.Equal(t, []core.Handle{handle(2)}, r.Handles())
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t, 0)

	d := r.Broadcast(context.Background(), func(context.Context, core.Handle) error {
		return errors.New("unexpected delivery")
	})
	require.NoError(t, d.WaitContext(context.Background()))
	assert.Equal(t, 0, d.Total())
}

func TestExpiredObserversArePrunedOnBroadcast(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond)

	expired := make(chan uint32, 1)
	r.OnEvict(func(h core.Handle, reason EvictReason) {
		if reason == EvictExpired {
			expired <- h.ID
		}
	})

	r.Add(handle(1))
	time.Sleep(100 * time.Millisecond)
	r.Add(handle(2))

	assert.False(t, r.Contains(handle(1)))
	assert.Equal(t, []core.Handle{handle(2)}, r.Handles())

	rec := &recorder{}
	d := r.Broadcast(context.Background(), rec.deliver)
	d.Wait()

	assert.Equal(t, []uint32{2}, rec.ids())
	assert.Equal(t, 1, r.Len())

	select {
	case id := <-expired:
		assert.Equal(t, uint32(1), id)
	case <-time.After(time.Second):
		t.Fatal("expiry was not reported")
	}
}

func TestAddRefreshesDeadline(t *testing.T) {
	r := newTestRegistry(t, 200*time.Millisecond)

	r.Add(handle(1))
	time.Sleep(120 * time.Millisecond)
	r.Add(handle(1))
	time.Sleep(120 * time.Millisecond)

	rec := &recorder{}
	r.Broadcast(context.Background(), rec.deliver).Wait()
	assert.Equal(t, []uint32{1}, rec.ids())
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	r := newTestRegistry(t, 0)
	r.Add(handle(1))

	time.Sleep(20 * time.Millisecond)
	r.SetTimeout(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// The new timeout applies from the next Add only.
	assert.True(t, r.Contains(handle(1)))
	assert.Equal(t, 10*time.Millisecond, r.Timeout())
}

func TestSharedPool(t *testing.T) {
	pool, err := NewPool(2, 8, nil)
	require.NoError(t, err)
	defer pool.Release()

	a, err := NewRegistry(Options{Pool: pool})
	require.NoError(t, err)
	b, err := NewRegistry(Options{Pool: pool})
	require.NoError(t, err)

	for id := uint32(1); id <= 10; id++ {
		a.Add(handle(id))
		b.Add(handle(100 + id))
	}

	recA, recB := &recorder{}, &recorder{}
	da := a.Broadcast(context.Background(), recA.deliver)
	db := b.Broadcast(context.Background(), recB.deliver)
	da.Wait()
	db.Wait()

	assert.Len(t, recA.ids(), 10)
	assert.Len(t, recB.ids(), 10)

	// Closing a registry leaves a shared pool running.
	a.Close()
	assert.False(t, pool.IsClosed())
	assert.Equal(t, 0, a.Len())
	b.Close()
}

func TestBroadcastAfterClose(t *testing.T) {
	r, err := NewRegistry(Options{})
	require.NoError(t, err)
	r.Close()
	r.Close()

	r.Add(handle(1))
	rec := &recorder{}
	r.Broadcast(context.Background(), rec.deliver).Wait()
	assert.Equal(t, []uint32{1}, rec.ids())
}

func TestConcurrentAddAndBroadcast(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			for id := base; id < base+50; id++ {
				r.Add(handle(id))
				if id%7 == 0 {
					r.Remove(handle(id))
				}
			}
		}(uint32(i*100 + 1))
	}

	for i := 0; i < 10; i++ {
		r.Broadcast(context.Background(), func(context.Context, core.Handle) error { return nil }).Wait()
	}
	wg.Wait()

	for _, h := range r.Handles() {
		assert.NotZero(t, h.ID%7)
	}
}
