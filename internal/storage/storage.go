package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/khatru"
	"github.com/jmoiron/sqlx"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
)

// Storage is the local event cache. Events merged into a feed are written
// here so a restarted client can seed its feed before the relays answer.
type Storage struct {
	relay  *khatru.Relay
	store  eventstore.Store
	db     *sqlx.DB
	config *config.Storage
}

// New creates a new Storage instance with the given configuration
func New(ctx context.Context, cfg *config.Storage) (*Storage, error) {
	s := &Storage{
		config: cfg,
	}

	// Initialize the appropriate backend
	switch cfg.Driver {
	case "sqlite":
		if err := s.initSQLite(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
	case "memory":
		if err := s.initMemory(); err != nil {
			return nil, fmt.Errorf("failed to initialize memory store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	s.relay = khatru.NewRelay()
	s.relay.StoreEvent = append(s.relay.StoreEvent, s.store.SaveEvent)
	s.relay.QueryEvents = append(s.relay.QueryEvents, s.store.QueryEvents)

	return s, nil
}

// DB returns the underlying database connection, nil for the memory driver
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// StoreEvent stores an event. Storing an event twice is not an error.
func (s *Storage) StoreEvent(ctx context.Context, event *nostr.Event) error {
	if s.relay == nil {
		return fmt.Errorf("relay not initialized")
	}

	// Call all StoreEvent handlers
	for _, handler := range s.relay.StoreEvent {
		if err := handler(ctx, event); err != nil {
			if errors.Is(err, eventstore.ErrDupEvent) {
				continue
			}
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	return nil
}

// StoreEvents stores a batch of events, skipping duplicates.
// It stops at the first hard failure.
func (s *Storage) StoreEvents(ctx context.Context, events []*nostr.Event) (int, error) {
	stored := 0
	for _, event := range events {
		if err := s.StoreEvent(ctx, event); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// GetEvent returns a cached event by id, or nil when it is not cached
func (s *Storage) GetEvent(ctx context.Context, eventID string) (*nostr.Event, error) {
	events, err := s.QueryEvents(ctx, nostr.Filter{
		IDs:   []string{eventID},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// QueryEvents queries cached events using Nostr filters, newest first
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if s.relay == nil {
		return nil, fmt.Errorf("relay not initialized")
	}

	if len(s.relay.QueryEvents) == 0 {
		return nil, fmt.Errorf("no query handlers configured")
	}

	ch, err := s.relay.QueryEvents[0](ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	// Collect events from channel
	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}

	slices.SortStableFunc(events, func(a, b *nostr.Event) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})

	return events, nil
}

// Close closes the storage connections
func (s *Storage) Close() error {
	if s.store != nil {
		s.store.Close()
	}
	return nil
}
