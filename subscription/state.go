// Package subscription keeps a client's single channel subscription alive.
//
// A Manager owns the local subscription record and the resubscription
// action registered for it. When the channel's actor is lost, the action
// re-registers the same observer handle with the channel's new activation,
// and a Refresher repeats it periodically so the channel never expires the
// observer.
package subscription

import (
	"errors"
	"fmt"
	"sync"

	"github.com/najoast/observe/core"
)

// ErrEmptyChannelID is returned when a subscription names no channel.
var ErrEmptyChannelID = errors.New("channel id is required")

// Subscription binds a channel to the observer handle registered with it.
type Subscription struct {
	ChannelID string
	Handle    core.Handle
}

// Key identifies a resubscription action.
type Key = Subscription

func (s Subscription) String() string {
	return fmt.Sprintf("%s@%s", s.Handle, s.ChannelID)
}

// State holds at most one subscription.
type State struct {
	mu      sync.RWMutex
	current *Subscription
}

// NewState returns an empty state.
func NewState() *State {
	return &State{}
}

// Set records sub, replacing any previous record.
func (s *State) Set(sub Subscription) error {
	if sub.ChannelID == "" {
		return ErrEmptyChannelID
	}
	if sub.Handle.IsZero() {
		return fmt.Errorf("subscription to %s has no observer handle", sub.ChannelID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &sub
	return nil
}

// Clear drops the record and returns what it held.
func (s *State) Clear() (Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Subscription{}, false
	}
	sub := *s.current
	s.current = nil
	return sub, true
}

// IsSubscribed reports whether a subscription is recorded.
func (s *State) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Subscription returns the recorded subscription.
func (s *State) Subscription() (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return Subscription{}, false
	}
	return *s.current, true
}
