package core

import (
	"time"

	"go.uber.org/zap"
)

// ActorID is the node-local part of a Handle.
type ActorID uint32

// MessageType tells a handler how to interpret Message.Data.
type MessageType uint8

// Message categories. The numbering follows Skynet's PTYPE values.
const (
	MessageTypeText MessageType = iota
	MessageTypeResponse
	MessageTypeRequest
	MessageTypeSystem
	MessageTypeError
	// MessageTypeMulticast carries pushes from a channel to its observers.
	MessageTypeMulticast
)

var messageTypeNames = [...]string{
	MessageTypeText:      "text",
	MessageTypeResponse:  "response",
	MessageTypeRequest:   "request",
	MessageTypeSystem:    "system",
	MessageTypeError:     "error",
	MessageTypeMulticast: "multicast",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "unknown"
}

// Message is the unit an actor's mailbox holds.
type Message struct {
	ID      uint64
	Type    MessageType
	Source  ActorID // zero when injected from outside the system
	Target  ActorID
	Session uint32 // non-zero for a Call awaiting a reply
	Data    []byte

	Timestamp time.Time
}

// ActorState is the lifecycle position of an actor's loop.
type ActorState uint8

const (
	ActorStateIdle ActorState = iota
	ActorStateRunning
	ActorStateStopping
	ActorStateStopped
)

func (s ActorState) String() string {
	switch s {
	case ActorStateIdle:
		return "idle"
	case ActorStateRunning:
		return "running"
	case ActorStateStopping:
		return "stopping"
	case ActorStateStopped:
		return "stopped"
	}
	return "unknown"
}

// ActorOptions configures Spawn. Zero fields fall back to the system
// defaults.
type ActorOptions struct {
	MailboxSize    int
	Name           string // registers the actor for Lookup when set
	ProcessTimeout time.Duration
	Logger         *zap.Logger
}

// DefaultActorOptions returns the options a new System starts with.
func DefaultActorOptions() ActorOptions {
	return ActorOptions{
		MailboxSize:    1000,
		ProcessTimeout: 30 * time.Second,
	}
}

// ActorStats is a point-in-time snapshot of one actor.
type ActorStats struct {
	ID                ActorID
	Name              string
	State             ActorState
	MessagesProcessed uint64
	MailboxSize       int // messages waiting

	CreatedAt     time.Time
	LastMessageAt time.Time
}
