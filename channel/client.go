package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/observe/config"
	"github.com/najoast/observe/core"
	"github.com/najoast/observe/protocol"
)

// Remote is the client side view of a channel.
type Remote interface {
	// Subscribe registers observer with the channel, activating it if needed.
	Subscribe(ctx context.Context, channelID string, observer core.Handle) error

	// Unsubscribe removes observer from the channel.
	Unsubscribe(ctx context.Context, channelID string, observer core.Handle) error

	// Publish sends text to every observer of the channel.
	Publish(ctx context.Context, channelID, senderID, text string) error
}

// Client reaches channels through a Host. Subscribe and Unsubscribe wait for
// the channel to apply the request; Publish does not.
type Client struct {
	host        *Host
	system      *core.System
	callTimeout time.Duration
	logger      *zap.Logger
}

var _ Remote = (*Client)(nil)

// NewClient creates a client for the channels of host.
func NewClient(host *Host, cfg config.ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		host:        host,
		system:      host.system,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}
}

// Subscribe implements Remote.
func (c *Client) Subscribe(ctx context.Context, channelID string, observer core.Handle) error {
	target, err := c.host.Activate(channelID)
	if err != nil {
		return err
	}
	return c.call(ctx, target, protocol.NewSubscribe(observer))
}

// Unsubscribe implements Remote. An inactive channel has no observers, so
// there is nothing to remove.
func (c *Client) Unsubscribe(ctx context.Context, channelID string, observer core.Handle) error {
	target, ok := c.host.Lookup(channelID)
	if !ok {
		c.logger.Debug("unsubscribe from inactive channel", zap.String("channel", channelID))
		return nil
	}
	return c.call(ctx, target, protocol.NewUnsubscribe(observer))
}

// Publish implements Remote.
func (c *Client) Publish(ctx context.Context, channelID, senderID, text string) error {
	target, err := c.host.Activate(channelID)
	if err != nil {
		return err
	}

	data, err := protocol.EncodeRequest(protocol.NewPublish(senderID, text))
	if err != nil {
		return err
	}

	if err := c.system.Send(target, core.MessageTypeRequest, data); err != nil {
		return fmt.Errorf("publish to %s: %w", channelID, err)
	}
	return nil
}

// OnChannelLost registers fn to be told when a channel is deactivated.
func (c *Client) OnChannelLost(fn DeactivatedFunc) {
	c.host.OnDeactivated(fn)
}

func (c *Client) call(ctx context.Context, target core.Handle, req *protocol.Request) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if _, err := c.system.Call(ctx, target, core.MessageTypeRequest, data); err != nil {
		return fmt.Errorf("%s via %s: %w", req.Op, target, err)
	}
	return nil
}
