package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type router struct {
	actors sync.Map // ActorID -> Actor
	lastID atomic.Uint32
}

// NewRouter returns an empty in-process Router.
func NewRouter() Router {
	return newRouter()
}

func newRouter() *router {
	return &router{}
}

func (r *router) Register(actor Actor) error {
	if actor == nil {
		return fmt.Errorf("register: nil actor")
	}
	if _, dup := r.actors.LoadOrStore(actor.ID(), actor); dup {
		return fmt.Errorf("register: actor %d already present", actor.ID())
	}
	return nil
}

func (r *router) Unregister(id ActorID) error {
	if _, ok := r.actors.LoadAndDelete(id); !ok {
		return fmt.Errorf("unregister %d: %w", id, ErrActorNotFound)
	}
	return nil
}

// Route hands msg to the mailbox of msg.Target.
func (r *router) Route(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("route: nil message")
	}
	actor, ok := r.Lookup(msg.Target)
	if !ok {
		return fmt.Errorf("route to %d: %w", msg.Target, ErrActorNotFound)
	}
	return actor.Send(msg)
}

func (r *router) Lookup(id ActorID) (Actor, bool) {
	v, ok := r.actors.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Actor), true
}

func (r *router) List() []ActorID {
	var ids []ActorID
	r.actors.Range(func(k, _ any) bool {
		ids = append(ids, k.(ActorID))
		return true
	})
	return ids
}

// nextID returns an actor ID that has not been handed out before.
func (r *router) nextID() ActorID {
	return ActorID(r.lastID.Add(1))
}
