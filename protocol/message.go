package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/najoast/observe/core"
)

// Op identifies a channel operation.
type Op uint8

const (
	OpSubscribe   Op = 1
	OpUnsubscribe Op = 2
	OpPublish     Op = 3
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	case OpPublish:
		return "publish"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// IsValid reports whether o is a known operation.
func (o Op) IsValid() bool {
	return o >= OpSubscribe && o <= OpPublish
}

// Request validation errors
var (
	ErrInvalidOp       = errors.New("invalid operation")
	ErrMissingObserver = errors.New("observer handle is required")
	ErrMissingSender   = errors.New("sender id is required")
)

// Request is a client-to-channel operation.
//
// CBOR encoding:
//
//	{
//	  1: op,         // uint8: 1=Subscribe, 2=Unsubscribe, 3=Publish
//	  2: observer,   // handle map, subscribe/unsubscribe only
//	  3: senderId,   // string, publish only
//	  4: text        // string, publish only
//	}
type Request struct {
	Op       Op           `cbor:"1,keyasint"`
	Observer *core.Handle `cbor:"2,keyasint,omitempty"`
	SenderID string       `cbor:"3,keyasint,omitempty"`
	Text     string       `cbor:"4,keyasint,omitempty"`
}

// Validate checks that the fields required by Op are present.
func (r *Request) Validate() error {
	switch r.Op {
	case OpSubscribe, OpUnsubscribe:
		if r.Observer == nil || r.Observer.IsZero() {
			return fmt.Errorf("%s: %w", r.Op, ErrMissingObserver)
		}
	case OpPublish:
		if r.SenderID == "" {
			return fmt.Errorf("%s: %w", r.Op, ErrMissingSender)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidOp, uint8(r.Op))
	}
	return nil
}

// NewSubscribe builds a subscribe request for h.
func NewSubscribe(h core.Handle) *Request {
	return &Request{Op: OpSubscribe, Observer: &h}
}

// NewUnsubscribe builds an unsubscribe request for h.
func NewUnsubscribe(h core.Handle) *Request {
	return &Request{Op: OpUnsubscribe, Observer: &h}
}

// NewPublish builds a publish request.
func NewPublish(senderID, text string) *Request {
	return &Request{Op: OpPublish, SenderID: senderID, Text: text}
}

// ChatMessage is what a channel pushes to each observer.
type ChatMessage struct {
	ChannelID string    `cbor:"1,keyasint" json:"channel_id"`
	SenderID  string    `cbor:"2,keyasint" json:"sender_id"`
	Text      string    `cbor:"3,keyasint" json:"text"`
	SentAt    time.Time `cbor:"4,keyasint" json:"sent_at"`
}
