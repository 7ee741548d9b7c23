package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/observe/config"
	"github.com/najoast/observe/core"
	"github.com/najoast/observe/protocol"
)

// fakeRemote records the calls a manager makes to its channel.
type fakeRemote struct {
	mu             sync.Mutex
	subscribeErr   error
	unsubscribeErr error
	panicOnCall    bool
	subscribes     []Subscription
	unsubscribes   []Subscription
}

func (f *fakeRemote) Subscribe(_ context.Context, channelID string, h core.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnCall {
		panic("remote exploded")
	}
	f.subscribes = append(f.subscribes, Subscription{ChannelID: channelID, Handle: h})
	return f.subscribeErr
}

func (f *fakeRemote) Unsubscribe(_ context.Context, channelID string, h core.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, Subscription{ChannelID: channelID, Handle: h})
	return f.unsubscribeErr
}

func (f *fakeRemote) Publish(context.Context, string, string, string) error {
	return nil
}

func (f *fakeRemote) subscribeCalls() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.subscribes...)
}

func (f *fakeRemote) unsubscribeCalls() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.unsubscribes...)
}

// fakeFactory hands out handles without spawning actors.
type fakeFactory struct {
	mu        sync.Mutex
	next      uint32
	createErr error
	panics    bool
	live      map[uint32]bool
	released  int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{next: 100, live: make(map[uint32]bool)}
}

func (f *fakeFactory) Create(Sink) (core.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("factory exploded")
	}
	if f.createErr != nil {
		return core.Handle{}, f.createErr
	}
	f.next++
	f.live[f.next] = true
	return core.Handle{ID: f.next, ActorID: core.ActorID(f.next), IsLocal: true}, nil
}

func (f *fakeFactory) Release(h core.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, h.ID)
	f.released++
	return nil
}

func (f *fakeFactory) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type fixture struct {
	remote       *fakeRemote
	factory      *fakeFactory
	resubscriber *Resubscriber
	manager      *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultConfig().Client
	cfg.ResubscribeMinInterval = 0

	f := &fixture{
		remote:       &fakeRemote{},
		factory:      newFakeFactory(),
		resubscriber: NewResubscriber(cfg, nil),
	}
	f.manager = NewManager(f.remote, f.factory, f.resubscriber, SinkFunc(func(*protocol.ChatMessage) {}), nil)
	return f
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.manager.Subscribe(ctx, "chat-1")
	require.True(t, res.OK(), res.String())
	assert.NoError(t, res.Err)

	sub, ok := f.manager.Subscription()
	require.True(t, ok)
	assert.Equal(t, "chat-1", sub.ChannelID)
	assert.False(t, sub.Handle.IsZero())

	assert.True(t, f.manager.IsSubscribed())
	assert.Equal(t, PhaseSubscribed, f.manager.Phase())
	assert.Equal(t, []Subscription{sub}, f.remote.subscribeCalls())
	assert.Equal(t, 1, f.resubscriber.Len())
	assert.Equal(t, 1, f.factory.liveCount())
	assert.NotEmpty(t, f.manager.ID())
}

func TestSubscribeWhileSubscribed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	before, _ := f.manager.Subscription()

	for _, channelID := range []string{"chat-1", "chat-2"} {
		res := f.manager.Subscribe(ctx, channelID)
		assert.Equal(t, AlreadySubscribed, res.Reason)
		assert.ErrorIs(t, res.Err, ErrAlreadySubscribed)
	}

	after, _ := f.manager.Subscription()
	assert.Equal(t, before, after)
	assert.Len(t, f.remote.subscribeCalls(), 1)
	assert.Equal(t, 1, f.factory.liveCount())
}

func TestAtMostOneSubscription(t *testing.T) {
	f := newFixture(t)

	const callers = 10
	results := make(chan Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.Subscribe(context.Background(), "chat-1")
		}()
	}
	wg.Wait()
	close(results)

	var ok, already int
	for res := range results {
		switch res.Reason {
		case Success:
			ok++
		case AlreadySubscribed:
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
	assert.Len(t, f.remote.subscribeCalls(), 1)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.manager.Unsubscribe(ctx, "chat-1")
	assert.Equal(t, NotSubscribed, res.Reason)
	assert.ErrorIs(t, res.Err, ErrNotSubscribed)
	assert.Empty(t, f.remote.unsubscribeCalls())

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	sub, _ := f.manager.Subscription()

	res = f.manager.Unsubscribe(ctx, "chat-1")
	require.True(t, res.OK(), res.String())
	assert.False(t, f.manager.IsSubscribed())
	assert.Equal(t, PhaseUnsubscribed, f.manager.Phase())
	assert.Equal(t, []Subscription{sub}, f.remote.unsubscribeCalls())
	assert.Equal(t, 0, f.resubscriber.Len())
	assert.Equal(t, 0, f.factory.liveCount())

	res = f.manager.Unsubscribe(ctx, "chat-1")
	assert.Equal(t, NotSubscribed, res.Reason)
	assert.Len(t, f.remote.unsubscribeCalls(), 1)
}

func TestUnsubscribeUsesActiveChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	require.True(t, f.manager.Unsubscribe(ctx, "chat-9").OK())

	calls := f.remote.unsubscribeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "chat-1", calls[0].ChannelID)
}

func TestUnsubscribeTearsDownWhenChannelFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	f.remote.unsubscribeErr = errors.New("channel gone")

	res := f.manager.Unsubscribe(ctx, "chat-1")
	assert.True(t, res.OK())
	assert.False(t, f.manager.IsSubscribed())
	assert.Equal(t, 0, f.resubscriber.Len())
	assert.Equal(t, 0, f.factory.liveCount())
}

func TestSubscribeFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.subscribeErr = errors.New("channel refused")

	res := f.manager.Subscribe(ctx, "chat-1")
	assert.Equal(t, SubscriptionFailed, res.Reason)
	assert.ErrorIs(t, res.Err, ErrSubscriptionFailed)
	assert.Contains(t, res.Err.Error(), "channel refused")

	assert.False(t, f.manager.IsSubscribed())
	assert.Equal(t, PhaseUnsubscribed, f.manager.Phase())
	assert.Equal(t, 0, f.resubscriber.Len())
	assert.Equal(t, 0, f.factory.liveCount())

	// The client can try again once the channel accepts.
	f.remote.subscribeErr = nil
	assert.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
}

func TestSubscribeRemotePanic(t *testing.T) {
	f := newFixture(t)
	f.remote.panicOnCall = true

	var res Result
	require.NotPanics(t, func() {
		res = f.manager.Subscribe(context.Background(), "chat-1")
	})
	assert.Equal(t, SubscriptionFailed, res.Reason)
	assert.False(t, f.manager.IsSubscribed())
	assert.Equal(t, 0, f.factory.liveCount())
}

func TestSubscribeCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.remote.subscribeErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.manager.Subscribe(ctx, "chat-1")
	assert.Equal(t, SubscriptionFailed, res.Reason)
	assert.False(t, f.manager.IsSubscribed())
}

func TestSubscribeObserverFailure(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		channel string
	}{
		{"factory error", func(f *fixture) { f.factory.createErr = errors.New("no mailbox") }, "chat-1"},
		{"factory panic", func(f *fixture) { f.factory.panics = true }, "chat-1"},
		{"empty channel", func(f *fixture) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.prepare(f)

			res := f.manager.Subscribe(context.Background(), tt.channel)
			assert.Equal(t, StateUpdateFailed, res.Reason)
			assert.ErrorIs(t, res.Err, ErrStateUpdateFailed)
			assert.False(t, f.manager.IsSubscribed())
			assert.Empty(t, f.remote.subscribeCalls())
			assert.Equal(t, 0, f.factory.liveCount())
			assert.Equal(t, PhaseUnsubscribed, f.manager.Phase())
		})
	}
}

func TestRegistrationFailureKeepsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resubscriber.Close()

	res := f.manager.Subscribe(ctx, "chat-1")
	assert.Equal(t, ResubscriptionRegistrationFailed, res.Reason)
	assert.ErrorIs(t, res.Err, ErrResubscriptionRegistrationFailed)

	// Degraded: subscribed on both sides, but nothing will resubscribe.
	assert.True(t, f.manager.IsSubscribed())
	assert.Equal(t, PhaseSubscribed, f.manager.Phase())
	assert.Len(t, f.remote.subscribeCalls(), 1)
	assert.Equal(t, 0, f.resubscriber.Len())

	assert.True(t, f.manager.Unsubscribe(ctx, "chat-1").OK())
	assert.False(t, f.manager.IsSubscribed())
}

func TestHandleUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	sub, _ := f.manager.Subscription()

	require.NoError(t, f.manager.HandleUnreachable(ctx, sub))
	assert.Equal(t, []Subscription{sub, sub}, f.remote.subscribeCalls())

	f.remote.subscribeErr = errors.New("still down")
	assert.Error(t, f.manager.HandleUnreachable(ctx, sub))
	assert.True(t, f.manager.IsSubscribed())

	stale := Subscription{ChannelID: "chat-1", Handle: core.Handle{ID: 1}}
	assert.ErrorIs(t, f.manager.HandleUnreachable(ctx, stale), ErrNotSubscribed)

	require.True(t, f.manager.Unsubscribe(ctx, "chat-1").OK())
	assert.ErrorIs(t, f.manager.HandleUnreachable(ctx, sub), ErrNotSubscribed)
	assert.Len(t, f.remote.subscribeCalls(), 3)
}

func TestChannelLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.manager.ChannelLost(ctx, "chat-1"))

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	assert.NoError(t, f.manager.ChannelLost(ctx, "chat-2"))
	assert.Len(t, f.remote.subscribeCalls(), 1)

	assert.NoError(t, f.manager.ChannelLost(ctx, "chat-1"))
	assert.Len(t, f.remote.subscribeCalls(), 2)
}

func TestManagerInvokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Empty(t, f.manager.InvokeAll(ctx))

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	assert.Empty(t, f.manager.InvokeAll(ctx))
	assert.Len(t, f.remote.subscribeCalls(), 2)
}

func TestManagerClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.manager.Subscribe(ctx, "chat-1").OK())
	require.NoError(t, f.manager.Close(ctx))

	assert.False(t, f.manager.IsSubscribed())
	assert.Len(t, f.remote.unsubscribeCalls(), 1)

	res := f.manager.Subscribe(ctx, "chat-1")
	assert.Equal(t, ResubscriptionRegistrationFailed, res.Reason)

	// Closing an idle manager is fine too.
	require.True(t, f.manager.Unsubscribe(ctx, "").OK())
	assert.NoError(t, f.manager.Close(ctx))
}
