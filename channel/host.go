package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/najoast/observe/bootstrap"
	"github.com/najoast/observe/config"
	"github.com/najoast/observe/core"
	"github.com/najoast/observe/observer"
)

// ServicePrefix prefixes the service name of every channel actor.
const ServicePrefix = "channel/"

// Host errors
var (
	ErrHostClosed       = errors.New("channel host closed")
	ErrEmptyChannelID   = errors.New("channel id is required")
	ErrChannelNotActive = errors.New("channel not active")
)

// DeactivatedFunc is told which channel went away.
type DeactivatedFunc func(channelID string)

type activation struct {
	entity *Entity
	handle core.Handle
}

// Host activates channel entities on demand, one actor per channel id.
// Deactivating a channel drops its observers; the next activation starts
// from an empty set, the way a relocated actor would.
type Host struct {
	system *core.System
	cfg    config.ChannelConfig
	pool   *ants.Pool
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[string]*activation
	closed   bool

	listenersMu sync.RWMutex
	listeners   []DeactivatedFunc
}

// NewHost creates a host whose entities share one delivery pool.
func NewHost(system *core.System, cfg config.ChannelConfig, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := observer.NewPool(cfg.DeliveryWorkers, cfg.DeliveryQueue, logger)
	if err != nil {
		return nil, err
	}

	return &Host{
		system:   system,
		cfg:      cfg,
		pool:     pool,
		logger:   logger,
		channels: make(map[string]*activation),
	}, nil
}

// ServiceName returns the actor service name for channelID.
func ServiceName(channelID string) string {
	return ServicePrefix + channelID
}

// Activate returns the handle of the channel's actor, spawning it first if
// the channel is not active.
func (h *Host) Activate(channelID string) (core.Handle, error) {
	if channelID == "" {
		return core.Handle{}, ErrEmptyChannelID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return core.Handle{}, ErrHostClosed
	}

	if act, ok := h.channels[channelID]; ok {
		if h.system.Alive(act.handle) {
			return act.handle, nil
		}
		// The actor died underneath us.
		act.entity.Close()
		delete(h.channels, channelID)
	}

	entity, err := NewEntity(channelID, h.system, observer.Options{
		Timeout: h.cfg.ObserverTimeout,
		Pool:    h.pool,
		Logger:  h.logger,
	})
	if err != nil {
		return core.Handle{}, err
	}

	handle, err := h.system.Spawn(entity, core.ActorOptions{
		Name:        ServiceName(channelID),
		MailboxSize: h.cfg.MailboxSize,
	})
	if err != nil {
		entity.Close()
		return core.Handle{}, fmt.Errorf("failed to activate channel %s: %w", channelID, err)
	}

	h.channels[channelID] = &activation{entity: entity, handle: handle}
	h.logger.Info("channel activated",
		zap.String("channel", channelID),
		zap.Stringer("handle", handle))

	return handle, nil
}

// Lookup returns the handle of an active channel without activating it.
func (h *Host) Lookup(channelID string) (core.Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	act, ok := h.channels[channelID]
	if !ok {
		return core.Handle{}, false
	}
	return act.handle, true
}

// Entity returns the entity of an active channel.
func (h *Host) Entity(channelID string) (*Entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	act, ok := h.channels[channelID]
	if !ok {
		return nil, false
	}
	return act.entity, true
}

// Deactivate stops the channel's actor and tells the deactivation listeners.
// Its observers are lost.
func (h *Host) Deactivate(channelID string) error {
	h.mu.Lock()
	act, ok := h.channels[channelID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelNotActive, channelID)
	}
	delete(h.channels, channelID)
	h.mu.Unlock()

	err := h.stop(channelID, act)
	h.notifyDeactivated(channelID)
	return err
}

func (h *Host) stop(channelID string, act *activation) error {
	err := h.system.Stop(act.handle)
	act.entity.Close()
	if err != nil && !errors.Is(err, core.ErrActorNotFound) {
		return fmt.Errorf("failed to deactivate channel %s: %w", channelID, err)
	}

	h.logger.Info("channel deactivated", zap.String("channel", channelID))
	return nil
}

// OnDeactivated registers fn to run, on its own goroutine, after a channel
// is deactivated.
func (h *Host) OnDeactivated(fn DeactivatedFunc) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Host) notifyDeactivated(channelID string) {
	h.listenersMu.RLock()
	listeners := make([]DeactivatedFunc, len(h.listeners))
	copy(listeners, h.listeners)
	h.listenersMu.RUnlock()

	for _, fn := range listeners {
		go func(fn DeactivatedFunc) {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("deactivation listener panicked",
						zap.String("channel", channelID),
						zap.Any("panic", r))
				}
			}()
			fn(channelID)
		}(fn)
	}
}

// SetObserverTimeout changes the observer timeout of live channels and of
// channels activated later.
func (h *Host) SetObserverTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg.ObserverTimeout = d
	for _, act := range h.channels {
		act.entity.SetObserverTimeout(d)
	}
	h.logger.Info("observer timeout updated", zap.Duration("timeout", d))
}

// Channels lists the active channel ids in order.
func (h *Host) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close deactivates every channel without notifying listeners and releases
// the delivery pool.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	channels := h.channels
	h.channels = make(map[string]*activation)
	h.mu.Unlock()

	var errs []error
	for id, act := range channels {
		if err := h.stop(id, act); err != nil {
			errs = append(errs, err)
		}
	}
	h.pool.Release()

	return errors.Join(errs...)
}

// Name implements bootstrap.Service.
func (h *Host) Name() string {
	return "channel-host"
}

// Start implements bootstrap.Service. Channels are activated lazily, so
// there is nothing to do up front.
func (h *Host) Start(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHostClosed
	}
	return nil
}

// Stop implements bootstrap.Service.
func (h *Host) Stop(ctx context.Context) error {
	return h.Close()
}

// Health implements bootstrap.Service.
func (h *Host) Health(ctx context.Context) (bootstrap.HealthStatus, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := bootstrap.HealthStatus{
		State:     bootstrap.HealthHealthy,
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"channels":         len(h.channels),
			"delivery_running": h.pool.Running(),
		},
	}
	if h.closed {
		status.State = bootstrap.HealthStopped
	}
	return status, nil
}
