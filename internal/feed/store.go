// Package feed merges relay results into a de-duplicated, newest-first note
// stream and drives loading, polling, pagination and search over it.
package feed

import (
	"cmp"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Merge combines incoming with existing without duplicate ids. Incoming
// events come first (the first occurrence of an id wins), followed by the
// existing events whose id was not in incoming. The result is not sorted.
func Merge(incoming, existing []*nostr.Event) []*nostr.Event {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]struct{}, len(incoming)+len(existing))
	merged := make([]*nostr.Event, 0, len(incoming)+len(existing))
	for _, events := range [][]*nostr.Event{incoming, existing} {
		for _, event := range events {
			if event == nil {
				continue
			}
			if _, ok := seen[event.ID]; ok {
				continue
			}
			seen[event.ID] = struct{}{}
			merged = append(merged, event)
		}
	}
	return merged
}

// Diff returns the incoming events whose id is not in existing, without
// duplicates, in incoming order
func Diff(incoming, existing []*nostr.Event) []*nostr.Event {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, event := range existing {
		if event != nil {
			seen[event.ID] = struct{}{}
		}
	}

	fresh := make([]*nostr.Event, 0, len(incoming))
	for _, event := range incoming {
		if event == nil {
			continue
		}
		if _, ok := seen[event.ID]; ok {
			continue
		}
		seen[event.ID] = struct{}{}
		fresh = append(fresh, event)
	}
	return fresh
}

// SortNewestFirst sorts events by created_at descending. Equal timestamps
// keep their relative order.
func SortNewestFirst(events []*nostr.Event) {
	slices.SortStableFunc(events, func(a, b *nostr.Event) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
}

// Store is a note collection: unique ids, newest first. It is safe for
// concurrent use by live subscriptions and one-shot loads.
type Store struct {
	mu       sync.RWMutex
	events   []*nostr.Event
	index    map[string]*nostr.Event
	maxNotes int
}

// NewStore creates an empty store. maxNotes caps the collection after head
// merges (0 = unbounded).
func NewStore(maxNotes int) *Store {
	return &Store{
		index:    make(map[string]*nostr.Event),
		maxNotes: maxNotes,
	}
}

// Merge merges events into the collection, re-sorts it and returns the
// events that were not present before
func (s *Store) Merge(events []*nostr.Event) []*nostr.Event {
	return s.merge(events, true)
}

// Append merges an older page. It never trims, so a page that was just
// fetched is not evicted by the cap.
func (s *Store) Append(events []*nostr.Event) []*nostr.Event {
	return s.merge(events, false)
}

func (s *Store) merge(events []*nostr.Event, trim bool) []*nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := Diff(events, s.events)
	if len(added) == 0 {
		return added
	}

	s.events = Merge(events, s.events)
	SortNewestFirst(s.events)
	for _, event := range added {
		s.index[event.ID] = event
	}

	if trim {
		s.trim()
	}
	return added
}

func (s *Store) trim() {
	if s.maxNotes <= 0 || len(s.events) <= s.maxNotes {
		return
	}
	for _, event := range s.events[s.maxNotes:] {
		delete(s.index, event.ID)
	}
	s.events = slices.Clip(s.events[:s.maxNotes])
}

// Insert places a single event into the collection, typically a note the
// user just posted. It reports false if the id was already present.
func (s *Store) Insert(event *nostr.Event) bool {
	return len(s.Merge([]*nostr.Event{event})) == 1
}

// Remove deletes an event by id and reports whether it was present
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	s.events = slices.DeleteFunc(s.events, func(e *nostr.Event) bool { return e.ID == id })
	return true
}

// Get returns the event with id, if present
func (s *Store) Get(id string) (*nostr.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.index[id]
	return event, ok
}

// Snapshot returns a copy of the collection, newest first
func (s *Store) Snapshot() []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Newest returns the created_at of the newest event, 0 when empty
func (s *Store) Newest() nostr.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[0].CreatedAt
}

// Oldest returns the created_at of the oldest event, 0 when empty
func (s *Store) Oldest() nostr.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].CreatedAt
}

// Len returns the number of events held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Reset empties the collection
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.index = make(map[string]*nostr.Event)
}
