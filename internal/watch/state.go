package watch

import (
	"sort"
	"sync"
	"time"

	"crouswatch/internal/listing"
)

// State is the tracked set and the notification ledger for one source.
//
// Writes come from the cycle owner only; the lock lets status readers take a
// consistent snapshot while a cycle is in flight.
type State struct {
	mu      sync.RWMutex
	tracked map[listing.Identity]Tracked
	ledger  Ledger
}

// NewState returns an empty store.
func NewState() *State {
	return &State{
		tracked: map[listing.Identity]Tracked{},
		ledger:  Ledger{},
	}
}

// Tracked returns a copy of the tracked map.
func (s *State) Tracked() map[listing.Identity]Tracked {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[listing.Identity]Tracked, len(s.tracked))
	for k, v := range s.tracked {
		out[k] = v
	}
	return out
}

// Ledger returns a copy of the ledger.
func (s *State) Ledger() Ledger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Clone()
}

// Commit replaces the tracked set with next and drops the ledger entries of
// purged identities in one step.
func (s *State) Commit(next map[listing.Identity]Tracked, purge []listing.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = next
	for _, id := range purge {
		delete(s.ledger, id)
	}
	// Entries whose identity is no longer tracked cannot stay behind.
	for id := range s.ledger {
		if _, ok := s.tracked[id]; !ok {
			delete(s.ledger, id)
		}
	}
}

// MarkNotified stamps the ledger for a tracked identity.
func (s *State) MarkNotified(id listing.Identity, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[id]; !ok {
		return
	}
	s.ledger[id] = at
}

// Reset clears both maps and returns how many listings were dropped.
func (s *State) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tracked)
	s.tracked = map[listing.Identity]Tracked{}
	s.ledger = Ledger{}
	return n
}

// Entry is one tracked listing as exposed to status readers.
type Entry struct {
	Tracked
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
}

// Snapshot is a consistent, read-only view of the store.
type Snapshot struct {
	Listings      []Entry `json:"listings"`
	LedgerEntries int     `json:"ledger_entries"`
}

// Snapshot returns the current contents sorted by first-seen time then identity.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Listings:      make([]Entry, 0, len(s.tracked)),
		LedgerEntries: len(s.ledger),
	}
	for id, t := range s.tracked {
		e := Entry{Tracked: t}
		if at, ok := s.ledger[id]; ok {
			at := at
			e.LastNotifiedAt = &at
		}
		out.Listings = append(out.Listings, e)
	}
	sort.Slice(out.Listings, func(i, j int) bool {
		a, b := out.Listings[i], out.Listings[j]
		if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
			return a.FirstSeenAt.Before(b.FirstSeenAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Len returns the tracked count and the ledger size.
func (s *State) Len() (tracked, ledger int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked), len(s.ledger)
}
