package subscription

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/najoast/observe/config"
	"github.com/najoast/observe/core"
	"github.com/najoast/observe/protocol"
)

// Sink receives the messages pushed to a subscription.
type Sink interface {
	Receive(msg *protocol.ChatMessage)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg *protocol.ChatMessage)

// Receive calls f(msg).
func (f SinkFunc) Receive(msg *protocol.ChatMessage) {
	f(msg)
}

// ObserverFactory turns a sink into an addressable observer handle.
type ObserverFactory interface {
	Create(sink Sink) (core.Handle, error)
	Release(h core.Handle) error
}

// ActorObserverFactory backs each observer handle with an actor that
// decodes pushed messages and hands them to the sink in arrival order.
type ActorObserverFactory struct {
	system  *core.System
	mailbox int
	logger  *zap.Logger
}

var _ ObserverFactory = (*ActorObserverFactory)(nil)

// NewObserverFactory creates observers on system.
func NewObserverFactory(system *core.System, cfg config.ClientConfig, logger *zap.Logger) *ActorObserverFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActorObserverFactory{
		system:  system,
		mailbox: cfg.ObserverMailboxSize,
		logger:  logger,
	}
}

// Create spawns an observer actor for sink.
func (f *ActorObserverFactory) Create(sink Sink) (core.Handle, error) {
	if sink == nil {
		return core.Handle{}, errors.New("observer sink is required")
	}

	h, err := f.system.Spawn(&observerActor{sink: sink}, core.ActorOptions{
		MailboxSize: f.mailbox,
		Logger:      f.logger,
	})
	if err != nil {
		return core.Handle{}, fmt.Errorf("failed to create observer: %w", err)
	}
	return h, nil
}

// Release stops the observer actor behind h. Releasing twice is not an error.
func (f *ActorObserverFactory) Release(h core.Handle) error {
	if err := f.system.Stop(h); err != nil && !errors.Is(err, core.ErrActorNotFound) {
		return err
	}
	return nil
}

type observerActor struct {
	sink Sink
}

func (o *observerActor) HandleMessage(_ context.Context, msg *core.Message) error {
	if msg.Type != core.MessageTypeMulticast {
		return fmt.Errorf("observer: unexpected %s message", msg.Type)
	}

	chat, err := protocol.DecodeChatMessage(msg.Data)
	if err != nil {
		return err
	}
	o.sink.Receive(chat)
	return nil
}
