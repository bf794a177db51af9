package feed

import (
	"context"
	"errors"

	"github.com/nbd-wtf/go-nostr"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
)

var (
	// ErrUnauthenticated is returned when an operation needs a current user
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBusy is returned when another load is in flight. Nothing was done.
	ErrBusy = errors.New("feed is busy")
	// ErrStale is returned when the feed mode changed while a load was in
	// flight; its results were discarded.
	ErrStale = errors.New("feed changed during load")
)

// Gateway is the relay access the feed needs
type Gateway interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	// FetchEvent looks one event up under the shorter lookup deadline
	FetchEvent(ctx context.Context, eventID string) (*nostr.Event, error)
	Subscribe(ctx context.Context, filter nostr.Filter) (gateway.Stream, error)
	Publish(ctx context.Context, event *nostr.Event) error
}

// Cache is the local event cache pages are written to and restored from
type Cache interface {
	StoreEvents(ctx context.Context, events []*nostr.Event) (int, error)
	QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	GetEvent(ctx context.Context, eventID string) (*nostr.Event, error)
}
