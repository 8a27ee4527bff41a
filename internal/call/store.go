package call

import (
	"sync"
	"time"
)

// Store is the process-wide set of active calls plus the reverse indexes
// used to resolve ambiguous event payloads back to a call. Every Bind
// also writes the key into the call's mirror set so Purge is total.
type Store struct {
	mu         sync.RWMutex
	calls      map[string]*Call
	byChannel  map[string]string
	byBridge   map[string]string
	byLinkedID map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		calls:      make(map[string]*Call),
		byChannel:  make(map[string]string),
		byBridge:   make(map[string]string),
		byLinkedID: make(map[string]string),
	}
}

// GetOrCreate returns the call for the id, creating it when absent.
func (s *Store) GetOrCreate(callID, number string, now time.Time) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.calls[callID]; ok {
		return c
	}
	c := New(callID, number, now)
	s.calls[callID] = c
	return c
}

// Get returns the call for the id, nil when absent.
func (s *Store) Get(callID string) *Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[callID]
}

// Count returns the number of active calls.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// All returns a snapshot of the active calls.
func (s *Store) All() []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	return out
}

// BindChannel indexes channel -> call and mirrors the id on the call.
func (s *Store) BindChannel(c *Call, channelID string) {
	if channelID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChannel[channelID] = c.ID
	c.Channels[channelID] = struct{}{}
}

// UnbindChannel drops a channel from the index and the call's set.
func (s *Store) UnbindChannel(c *Call, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChannel, channelID)
	delete(c.Channels, channelID)
}

// BindBridge indexes bridge -> call and mirrors the id on the call.
func (s *Store) BindBridge(c *Call, bridgeID string) {
	if bridgeID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBridge[bridgeID] = c.ID
	c.Bridges[bridgeID] = struct{}{}
}

// BindLinkedID indexes linkedid -> call and mirrors the id on the call.
func (s *Store) BindLinkedID(c *Call, linkedID string) {
	if linkedID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLinkedID[linkedID] = c.ID
	c.LinkedIDs[linkedID] = struct{}{}
}

// ByChannel resolves a channel id to its call.
func (s *Store) ByChannel(channelID string) *Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byChannel[channelID]; ok {
		return s.calls[id]
	}
	return nil
}

// ByBridge resolves a bridge id to its call.
func (s *Store) ByBridge(bridgeID string) *Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byBridge[bridgeID]; ok {
		return s.calls[id]
	}
	return nil
}

// ByLinkedID resolves a linked id to its call, first through the index,
// then by scanning every call's linked-id mirror set.
func (s *Store) ByLinkedID(linkedID string) *Call {
	if linkedID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byLinkedID[linkedID]; ok {
		return s.calls[id]
	}
	for _, c := range s.calls {
		if _, ok := c.LinkedIDs[linkedID]; ok {
			return c
		}
	}
	return nil
}

// Purge removes the call and every reverse-index key that points at it.
func (s *Store) Purge(callID string) *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil
	}
	for ch := range c.Channels {
		delete(s.byChannel, ch)
	}
	// Roled channels may have been unbound from Channels already; sweep
	// the index for stragglers keyed to this call.
	for ch, id := range s.byChannel {
		if id == callID {
			delete(s.byChannel, ch)
		}
	}
	for br := range c.Bridges {
		delete(s.byBridge, br)
	}
	for lk := range c.LinkedIDs {
		delete(s.byLinkedID, lk)
	}
	delete(s.calls, callID)
	return c
}
