package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type actor struct {
	id      ActorID
	name    string
	handler MessageHandler
	timeout time.Duration
	logger  *zap.Logger

	mailbox chan *Message
	ctx     context.Context
	cancel  context.CancelFunc
	done    sync.WaitGroup
	exited  chan struct{}

	state     atomic.Int32 // ActorState
	started   atomic.Bool
	processed atomic.Uint64
	lastMsgNs atomic.Int64
	createdAt time.Time

	sessions atomic.Uint32
	waiting  sync.Map // session -> chan *Message
}

// NewActor builds an actor around handler. It does nothing until Start.
func NewActor(id ActorID, handler MessageHandler, opts ActorOptions) Actor {
	defaults := DefaultActorOptions()
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = defaults.ProcessTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &actor{
		id:        id,
		name:      opts.Name,
		handler:   handler,
		timeout:   opts.ProcessTimeout,
		logger:    logger.With(zap.Uint32("actor", uint32(id)), zap.String("name", opts.Name)),
		mailbox:   make(chan *Message, opts.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		exited:    make(chan struct{}),
		createdAt: time.Now(),
	}
}

func (a *actor) ID() ActorID {
	return a.id
}

func (a *actor) currentState() ActorState {
	return ActorState(a.state.Load())
}

func (a *actor) Start(context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return fmt.Errorf("actor %d already started (%s)", a.id, a.currentState())
	}
	a.done.Add(1)
	go a.run()
	return nil
}

func (a *actor) Stop() error {
	if !a.state.CompareAndSwap(int32(ActorStateIdle), int32(ActorStateStopping)) &&
		!a.state.CompareAndSwap(int32(ActorStateRunning), int32(ActorStateStopping)) {
		return fmt.Errorf("actor %d cannot stop while %s", a.id, a.currentState())
	}
	a.cancel()
	a.done.Wait()
	a.state.Store(int32(ActorStateStopped))
	return nil
}

func (a *actor) Send(msg *Message) error {
	if s := a.currentState(); s == ActorStateStopping || s == ActorStateStopped {
		return fmt.Errorf("actor %d: %w (%s)", a.id, ErrActorStopped, s)
	}
	if a.ctx.Err() != nil {
		return fmt.Errorf("actor %d: %w", a.id, ErrActorStopped)
	}

	select {
	case a.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %d: %w", a.id, ErrMailboxFull)
	}
}

func (a *actor) Call(ctx context.Context, msg *Message) (*Message, error) {
	msg.Session = a.sessions.Add(1)
	reply := make(chan *Message, 1)
	a.waiting.Store(msg.Session, reply)
	defer a.waiting.Delete(msg.Session)

	if err := a.Send(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.exited:
		// The loop answers queued calls while draining.
		select {
		case resp := <-reply:
			return resp, nil
		default:
			return nil, fmt.Errorf("actor %d: %w", a.id, ErrActorStopped)
		}
	}
}

func (a *actor) Stats() ActorStats {
	var last time.Time
	if ns := a.lastMsgNs.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return ActorStats{
		ID:                a.id,
		Name:              a.name,
		State:             a.currentState(),
		MessagesProcessed: a.processed.Load(),
		MailboxSize:       len(a.mailbox),
		CreatedAt:         a.createdAt,
		LastMessageAt:     last,
	}
}

func (a *actor) run() {
	defer a.done.Done()
	defer close(a.exited)
	for {
		select {
		case msg := <-a.mailbox:
			if msg != nil {
				a.process(msg)
			}
		case <-a.ctx.Done():
			a.drain()
			return
		}
	}
}

func (a *actor) process(msg *Message) {
	if a.state.CompareAndSwap(int32(ActorStateIdle), int32(ActorStateRunning)) {
		defer a.state.CompareAndSwap(int32(ActorStateRunning), int32(ActorStateIdle))
	}
	a.processed.Add(1)
	a.lastMsgNs.Store(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
	defer cancel()

	err := a.invoke(ctx, msg)
	if msg.Session != 0 {
		a.reply(msg, err)
		return
	}
	if err != nil {
		a.logger.Warn("message handler failed",
			zap.Stringer("type", msg.Type),
			zap.Uint32("source", uint32(msg.Source)),
			zap.Error(err))
	}
}

// invoke runs the handler, converting a panic into ErrHandlerPanicked.
func (a *actor) invoke(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("message handler panicked", zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()
	return a.handler.HandleMessage(ctx, msg)
}

func (a *actor) reply(req *Message, err error) {
	v, ok := a.waiting.Load(req.Session)
	if !ok {
		return
	}
	resp := &Message{
		Type:      MessageTypeResponse,
		Source:    a.id,
		Target:    req.Source,
		Session:   req.Session,
		Timestamp: time.Now(),
	}
	if err != nil {
		resp.Type = MessageTypeError
		resp.Data = []byte(err.Error())
	}

	select {
	case v.(chan *Message) <- resp:
	default: // caller gave up
	}
}

// drain fails the calls still queued when the actor stops.
func (a *actor) drain() {
	for {
		select {
		case msg := <-a.mailbox:
			if msg != nil && msg.Session != 0 {
				a.reply(msg, fmt.Errorf("actor %d: %w", a.id, ErrActorStopped))
			}
		default:
			return
		}
	}
}
