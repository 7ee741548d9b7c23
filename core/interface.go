package core

import "context"

// MessageHandler is the behaviour behind an actor. It is never called
// concurrently for the same actor.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc lets a function serve as a MessageHandler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Actor owns a mailbox and drains it on its own goroutine.
type Actor interface {
	ID() ActorID
	// Start launches the loop. Calling it twice is an error.
	Start(ctx context.Context) error
	// Stop finishes the message in progress and ends the loop.
	Stop() error
	// Send enqueues msg without waiting. A stopped actor or a full mailbox
	// is reported as an error.
	Send(msg *Message) error
	// Call enqueues msg and waits for the handler's reply or ctx.
	Call(ctx context.Context, msg *Message) (*Message, error)
	Stats() ActorStats
}

// Router maps actor IDs to running actors.
type Router interface {
	Register(actor Actor) error
	Unregister(id ActorID) error
	Route(msg *Message) error
	Lookup(id ActorID) (Actor, bool)
	List() []ActorID
}
