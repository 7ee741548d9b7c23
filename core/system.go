package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// System owns every actor of one process, hands out their handles and
// moves messages between them.
type System struct {
	router  *router
	handles *HandleManager
	logger  *zap.Logger
	mu      sync.RWMutex
	nodeID  uint32

	defaults ActorOptions

	// System shutdown context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewActorSystem creates a new System for the given node.
func NewActorSystem(nodeID uint32, logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	defaults := DefaultActorOptions()
	defaults.Logger = logger

	return &System{
		router:   newRouter(),
		handles:  NewHandleManager(nodeID),
		logger:   logger,
		nodeID:   nodeID,
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetDefaults replaces the options used for zero-valued fields passed to Spawn.
func (s *System) SetDefaults(opts ActorOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	s.defaults = opts
}

// NodeID returns the node this system encodes into its handles.
func (s *System) NodeID() uint32 {
	return s.nodeID
}

// Spawn creates, registers and starts a new actor. When opts.Name is set the
// actor is also reachable through Lookup.
func (s *System) Spawn(handler MessageHandler, opts ActorOptions) (Handle, error) {
	if handler == nil {
		return Handle{}, fmt.Errorf("cannot spawn actor without handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return Handle{}, ErrSystemShutdown
	default:
	}

	if opts.MailboxSize == 0 {
		opts.MailboxSize = s.defaults.MailboxSize
	}
	if opts.ProcessTimeout == 0 {
		opts.ProcessTimeout = s.defaults.ProcessTimeout
	}
	if opts.Logger == nil {
		opts.Logger = s.defaults.Logger
	}

	id := s.router.nextID()
	actor := NewActor(id, handler, opts)

	if err := s.router.Register(actor); err != nil {
		return Handle{}, fmt.Errorf("failed to register actor: %w", err)
	}

	handle, err := s.handles.Allocate(id, opts.Name)
	if err != nil {
		s.router.Unregister(id)
		return Handle{}, fmt.Errorf("failed to allocate handle: %w", err)
	}

	if err := actor.Start(s.ctx); err != nil {
		s.handles.Release(handle.ID)
		s.router.Unregister(id)
		return Handle{}, fmt.Errorf("failed to start actor: %w", err)
	}

	s.logger.Debug("actor spawned", zap.Stringer("handle", handle))

	return handle, nil
}

// Lookup resolves a service name to its handle.
func (s *System) Lookup(name string) (Handle, bool) {
	return s.handles.ByName(name)
}

// resolve maps a handle to a live actor. A handle that has been released, or
// whose ID now belongs to a different actor, does not resolve.
func (s *System) resolve(h Handle) (Actor, error) {
	current, ok := s.handles.Get(h.ID)
	if !ok || current.ActorID != h.ActorID {
		return nil, fmt.Errorf("handle %s: %w", h, ErrActorNotFound)
	}
	actor, ok := s.router.Lookup(h.ActorID)
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", h, ErrActorNotFound)
	}
	return actor, nil
}

// Alive reports whether h still addresses a registered actor.
func (s *System) Alive(h Handle) bool {
	_, err := s.resolve(h)
	return err == nil
}

// Send delivers a one-way message to the actor behind h.
func (s *System) Send(to Handle, msgType MessageType, data []byte) error {
	actor, err := s.resolve(to)
	if err != nil {
		return err
	}

	return actor.Send(&Message{
		Type:      msgType,
		Target:    to.ActorID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Call sends a request to the actor behind h and waits for its answer.
func (s *System) Call(ctx context.Context, to Handle, msgType MessageType, data []byte) ([]byte, error) {
	actor, err := s.resolve(to)
	if err != nil {
		return nil, err
	}

	resp, err := actor.Call(ctx, &Message{
		Type:      msgType,
		Target:    to.ActorID,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	if resp.Type == MessageTypeError {
		return nil, fmt.Errorf("remote error: %s", string(resp.Data))
	}

	return resp.Data, nil
}

// Stop stops the actor behind h and releases its handle. Messages sent to h
// afterwards fail with ErrActorNotFound.
func (s *System) Stop(h Handle) error {
	s.mu.Lock()
	actor, err := s.resolve(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.handles.Release(h.ID)
	s.router.Unregister(h.ActorID)
	s.mu.Unlock()

	if err := actor.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s: %w", h, err)
	}

	s.logger.Debug("actor stopped", zap.Stringer("handle", h))
	return nil
}

// Shutdown gracefully stops all Actors in the system.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	handles := s.handles.All()
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, h := range handles {
			if err := s.Stop(h); err != nil && !errors.Is(err, ErrActorNotFound) {
				errs = append(errs, err)
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("actor system shutdown incomplete", zap.Error(err))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns statistics for all Actors.
func (s *System) Stats() []ActorStats {
	var stats []ActorStats

	for _, id := range s.router.List() {
		if actor, exists := s.router.Lookup(id); exists {
			stats = append(stats, actor.Stats())
		}
	}

	return stats
}
