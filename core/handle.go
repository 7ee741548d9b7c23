package core

import (
	"fmt"
	"sort"
	"sync"
)

// Handle addresses an actor. It is a plain value that can be copied, encoded
// and passed to other actors, which then reach the owner through the System
// without holding a reference to it. Handles compare by ID.
type Handle struct {
	ID      uint32  `json:"id" cbor:"1,keyasint"` // node in the high byte
	ActorID ActorID `json:"actor_id" cbor:"2,keyasint"`
	Name    string  `json:"name,omitempty" cbor:"3,keyasint,omitempty"`
	Node    uint32  `json:"node" cbor:"4,keyasint"`
	IsLocal bool    `json:"is_local" cbor:"5,keyasint"`
}

func (h Handle) String() string {
	if h.Name != "" {
		return fmt.Sprintf(":%08x(%s)", h.ID, h.Name)
	}
	return fmt.Sprintf(":%08x", h.ID)
}

// IsZero reports whether h was never allocated.
func (h Handle) IsZero() bool {
	return h.ID == 0
}

// HandleManager hands out handle IDs and keeps the optional name table.
// Released IDs are never reused, so a stale Handle cannot reach a newer
// actor.
type HandleManager struct {
	mu     sync.RWMutex
	nodeID uint32
	next   uint32

	byID    map[uint32]Handle
	byActor map[ActorID]uint32
	byName  map[string]uint32
}

func NewHandleManager(nodeID uint32) *HandleManager {
	return &HandleManager{
		nodeID:  nodeID,
		next:    nodeID<<24 + 1,
		byID:    make(map[uint32]Handle),
		byActor: make(map[ActorID]uint32),
		byName:  make(map[string]uint32),
	}
}

// Allocate returns the handle of actorID, creating it on first use. A name
// already held by another live handle is rejected with ErrNameTaken.
func (hm *HandleManager) Allocate(actorID ActorID, name string) (Handle, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if id, ok := hm.byActor[actorID]; ok {
		return hm.byID[id], nil
	}
	if name != "" {
		if _, taken := hm.byName[name]; taken {
			return Handle{}, fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
	}

	h := Handle{
		ID:      hm.next,
		ActorID: actorID,
		Name:    name,
		Node:    hm.nodeID,
		IsLocal: true,
	}
	hm.next++

	hm.byID[h.ID] = h
	hm.byActor[actorID] = h.ID
	if name != "" {
		hm.byName[name] = h.ID
	}
	return h, nil
}

func (hm *HandleManager) Get(id uint32) (Handle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.byID[id]
	return h, ok
}

func (hm *HandleManager) ByName(name string) (Handle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	id, ok := hm.byName[name]
	if !ok {
		return Handle{}, false
	}
	return hm.byID[id], true
}

// Release drops the handle and frees its name for reuse.
func (hm *HandleManager) Release(id uint32) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	h, ok := hm.byID[id]
	if !ok {
		return fmt.Errorf("%w: %08x", ErrHandleNotFound, id)
	}
	delete(hm.byID, id)
	delete(hm.byActor, h.ActorID)
	if h.Name != "" {
		delete(hm.byName, h.Name)
	}
	return nil
}

// All returns the live handles ordered by ID.
func (hm *HandleManager) All() []Handle {
	hm.mu.RLock()
	all := make([]Handle, 0, len(hm.byID))
	for _, h := range hm.byID {
		all = append(all, h)
	}
	hm.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
