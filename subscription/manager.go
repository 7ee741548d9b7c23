package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/najoast/observe/channel"
	"github.com/najoast/observe/core"
)

// Phase is where a Manager stands in its subscription lifecycle.
type Phase uint32

const (
	PhaseUnsubscribed Phase = iota
	PhaseSubscribing
	PhaseSubscribed
	PhaseUnsubscribing
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUnsubscribed:
		return "unsubscribed"
	case PhaseSubscribing:
		return "subscribing"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseUnsubscribing:
		return "unsubscribing"
	default:
		return "unknown"
	}
}

// Manager keeps at most one live subscription for a client. Operations are
// serialized; none of them panics or returns a bare error.
type Manager struct {
	id string

	mu           sync.Mutex
	remote       channel.Remote
	factory      ObserverFactory
	resubscriber *Resubscriber
	sink         Sink
	state        *State
	phase        atomic.Uint32

	logger *zap.Logger
}

// NewManager creates a manager delivering pushed messages to sink. The
// resubscriber is owned by the manager from now on and closed by Close.
func NewManager(remote channel.Remote, factory ObserverFactory, resubscriber *Resubscriber, sink Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()

	return &Manager{
		id:           id,
		remote:       remote,
		factory:      factory,
		resubscriber: resubscriber,
		sink:         sink,
		state:        NewState(),
		logger:       logger.With(zap.String("client", id)),
	}
}

// ID returns the client id used in log fields.
func (m *Manager) ID() string {
	return m.id
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Manager) setPhase(p Phase) {
	m.phase.Store(uint32(p))
}

// IsSubscribed reports whether a subscription is recorded.
func (m *Manager) IsSubscribed() bool {
	return m.state.IsSubscribed()
}

// Subscription returns the recorded subscription.
func (m *Manager) Subscription() (Subscription, bool) {
	return m.state.Subscription()
}

// Subscribe subscribes to channelID. The local record is written before the
// channel is asked, and rolled back if the channel refuses. When only the
// resubscription registration fails, the subscription stays in place
// without automatic recovery and ResubscriptionRegistrationFailed is
// returned.
func (m *Manager) Subscribe(ctx context.Context, channelID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.state.Subscription(); ok {
		return failed(AlreadySubscribed, fmt.Errorf("subscribed to %s", current.ChannelID))
	}

	m.setPhase(PhaseSubscribing)
	logger := m.logger.With(zap.String("channel", channelID))

	var h core.Handle
	err := guard(func() (err error) {
		h, err = m.factory.Create(m.sink)
		return err
	})
	if err != nil {
		m.setPhase(PhaseUnsubscribed)
		logger.Warn("failed to create observer", zap.Error(err))
		return failed(StateUpdateFailed, err)
	}

	sub := Subscription{ChannelID: channelID, Handle: h}
	if err := m.state.Set(sub); err != nil {
		m.release(h)
		m.setPhase(PhaseUnsubscribed)
		logger.Warn("failed to record subscription", zap.Error(err))
		return failed(StateUpdateFailed, err)
	}

	if err := guard(func() error { return m.remote.Subscribe(ctx, channelID, h) }); err != nil {
		m.state.Clear()
		m.release(h)
		m.setPhase(PhaseUnsubscribed)
		logger.Warn("subscribe rejected", zap.Error(err))
		return failed(SubscriptionFailed, err)
	}

	if err := m.resubscriber.Register(sub, m.resubscribe(sub)); err != nil {
		m.setPhase(PhaseSubscribed)
		logger.Error("subscribed without automatic recovery", zap.Error(err))
		return failed(ResubscriptionRegistrationFailed, err)
	}

	m.setPhase(PhaseSubscribed)
	logger.Info("subscribed", zap.Stringer("observer", h))
	return succeeded()
}

// resubscribe builds the action that registers the same observer again.
func (m *Manager) resubscribe(sub Subscription) Action {
	return func(ctx context.Context) error {
		return m.remote.Subscribe(ctx, sub.ChannelID, sub.Handle)
	}
}

// Unsubscribe ends the current subscription. A channel that cannot be
// reached does not block the local teardown; it drops the released
// observer on its next broadcast.
func (m *Manager) Unsubscribe(ctx context.Context, channelID string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.state.Subscription()
	if !ok {
		return failed(NotSubscribed, nil)
	}

	logger := m.logger.With(zap.String("channel", sub.ChannelID))
	if channelID != "" && channelID != sub.ChannelID {
		logger.Warn("unsubscribe names another channel, using the active one",
			zap.String("requested", channelID))
	}

	m.setPhase(PhaseUnsubscribing)

	if err := guard(func() error { return m.remote.Unsubscribe(ctx, sub.ChannelID, sub.Handle) }); err != nil {
		logger.Warn("channel unsubscribe failed", zap.Error(err))
	}

	m.state.Clear()
	m.resubscriber.Clear(sub)
	m.release(sub.Handle)
	m.setPhase(PhaseUnsubscribed)

	logger.Info("unsubscribed")
	return succeeded()
}

// HandleUnreachable reacts to the channel behind key becoming unreachable
// by running its resubscription action once. Signals for a subscription
// that is no longer current are ignored.
func (m *Manager) HandleUnreachable(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.state.Subscription(); !ok || current != key {
		m.logger.Debug("ignoring unreachable signal for stale subscription", zap.Stringer("subscription", key))
		return fmt.Errorf("%w: %s", ErrNotSubscribed, key)
	}

	err := m.resubscriber.Invoke(ctx, key)
	if err != nil {
		m.logger.Warn("resubscription after unreachable channel failed",
			zap.Stringer("subscription", key),
			zap.Error(err))
	}
	return err
}

// ChannelLost is HandleUnreachable for whatever subscription points at
// channelID. Other channels are ignored.
func (m *Manager) ChannelLost(ctx context.Context, channelID string) error {
	sub, ok := m.state.Subscription()
	if !ok || sub.ChannelID != channelID {
		return nil
	}
	return m.HandleUnreachable(ctx, sub)
}

// InvokeAll runs the registered resubscription actions, keeping the channel
// from expiring the observer.
func (m *Manager) InvokeAll(ctx context.Context) map[Key]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resubscriber.InvokeAll(ctx)
}

// Close unsubscribes if needed and closes the resubscriber.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	if res := m.Unsubscribe(ctx, ""); !res.OK() && !errors.Is(res.Err, ErrNotSubscribed) {
		err = res.Err
	}

	m.mu.Lock()
	m.resubscriber.Close()
	m.mu.Unlock()
	return err
}

func (m *Manager) release(h core.Handle) {
	if err := guard(func() error { return m.factory.Release(h) }); err != nil {
		m.logger.Warn("failed to release observer", zap.Stringer("observer", h), zap.Error(err))
	}
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
