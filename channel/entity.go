// Package channel hosts chat channels as actors. Each channel keeps its own
// observer registry and pushes every published message to the registered
// observers.
package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/observe/core"
	"github.com/najoast/observe/observer"
	"github.com/najoast/observe/protocol"
)

// Entity owns the observer set of one channel. It is driven by its actor's
// mailbox, so its operations never run concurrently with each other.
type Entity struct {
	id       string
	system   *core.System
	registry *observer.Registry
	logger   *zap.Logger
}

// NewEntity creates the entity for channelID. Notifications are pushed
// through system.
func NewEntity(channelID string, system *core.System, opts observer.Options) (*Entity, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("channel", channelID))
	opts.Logger = logger

	registry, err := observer.NewRegistry(opts)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, err)
	}

	e := &Entity{
		id:       channelID,
		system:   system,
		registry: registry,
		logger:   logger,
	}
	registry.OnEvict(func(h core.Handle, reason observer.EvictReason) {
		logger.Debug("observer dropped", zap.Stringer("observer", h), zap.Stringer("reason", reason))
	})
	return e, nil
}

// ID returns the channel id.
func (e *Entity) ID() string {
	return e.id
}

// Observers returns the handles currently registered.
func (e *Entity) Observers() []core.Handle {
	return e.registry.Handles()
}

// IsObserving reports whether h is registered with this channel.
func (e *Entity) IsObserving(h core.Handle) bool {
	return e.registry.Contains(h)
}

// SetObserverTimeout changes how long a registration lasts without refresh.
func (e *Entity) SetObserverTimeout(d time.Duration) {
	e.registry.SetTimeout(d)
}

// Subscribe registers h, or refreshes an existing registration.
func (e *Entity) Subscribe(h core.Handle) {
	e.registry.Add(h)
	e.logger.Debug("observer subscribed", zap.Stringer("observer", h))
}

// Unsubscribe removes h. Unknown handles are ignored.
func (e *Entity) Unsubscribe(h core.Handle) {
	e.registry.Remove(h)
	e.logger.Debug("observer unsubscribed", zap.Stringer("observer", h))
}

// Publish pushes a message from senderID to every observer. It returns once
// the deliveries are scheduled.
func (e *Entity) Publish(ctx context.Context, senderID, text string) (*observer.Delivery, error) {
	data, err := protocol.EncodeChatMessage(&protocol.ChatMessage{
		ChannelID: e.id,
		SenderID:  senderID,
		Text:      text,
		SentAt:    time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", e.id, err)
	}

	// Deliveries outlive the message that triggered them.
	ctx = context.WithoutCancel(ctx)

	d := e.registry.Broadcast(ctx, func(_ context.Context, h core.Handle) error {
		if err := e.system.Send(h, core.MessageTypeMulticast, data); err != nil {
			return fmt.Errorf("%w: %v", observer.ErrObserverUnreachable, err)
		}
		return nil
	})

	e.logger.Debug("message published",
		zap.String("sender", senderID),
		zap.Int("observers", d.Total()))
	return d, nil
}

// HandleMessage decodes a channel request and applies it.
func (e *Entity) HandleMessage(ctx context.Context, msg *core.Message) error {
	if msg.Type != core.MessageTypeRequest {
		return fmt.Errorf("channel %s: unexpected %s message", e.id, msg.Type)
	}

	req, err := protocol.DecodeRequest(msg.Data)
	if err != nil {
		return fmt.Errorf("channel %s: %w", e.id, err)
	}

	switch req.Op {
	case protocol.OpSubscribe:
		e.Subscribe(*req.Observer)
	case protocol.OpUnsubscribe:
		e.Unsubscribe(*req.Observer)
	case protocol.OpPublish:
		_, err = e.Publish(ctx, req.SenderID, req.Text)
	default:
		err = fmt.Errorf("channel %s: %w: %s", e.id, protocol.ErrInvalidOp, req.Op)
	}
	return err
}

// Close drops every registration.
func (e *Entity) Close() {
	e.registry.Close()
}
