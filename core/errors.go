package core

import "errors"

// Delivery errors. Callers use errors.Is to tell a gone target from a busy one.
var (
	ErrActorNotFound   = errors.New("actor not found")
	ErrActorStopped    = errors.New("actor is not running")
	ErrMailboxFull     = errors.New("actor mailbox is full")
	ErrSystemShutdown  = errors.New("actor system is shutting down")
	ErrNameTaken       = errors.New("service name already exists")
	ErrHandleNotFound  = errors.New("handle not found")
	ErrHandlerPanicked = errors.New("message handler panicked")
)
