package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
)

func note(id string, createdAt int64, tags ...nostr.Tag) *nostr.Event {
	if tags == nil {
		tags = nostr.Tags{}
	}
	return &nostr.Event{
		ID:        id,
		PubKey:    "author",
		Kind:      KindNote,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
		Content:   "note " + id,
	}
}

func ids(events []*nostr.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

// fakeGateway answers queries from a function and records every call
type fakeGateway struct {
	mu         sync.Mutex
	queries    []nostr.Filter
	respond    func(filter nostr.Filter) ([]*nostr.Event, error)
	published  []*nostr.Event
	publishErr error
	stream     *fakeStream
	started    chan struct{}
	release    chan struct{}
}

func (g *fakeGateway) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	g.mu.Lock()
	g.queries = append(g.queries, filter)
	respond := g.respond
	g.mu.Unlock()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if respond == nil {
		return []*nostr.Event{}, nil
	}
	return respond(filter)
}

func (g *fakeGateway) FetchEvent(ctx context.Context, eventID string) (*nostr.Event, error) {
	events, err := g.Query(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.ID == eventID {
			return event, nil
		}
	}
	return nil, fmt.Errorf("%w: event %s", gateway.ErrNotFound, eventID)
}

func (g *fakeGateway) Subscribe(ctx context.Context, filter nostr.Filter) (gateway.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, filter)
	if g.stream == nil {
		return nil, fmt.Errorf("%w: no stream", gateway.ErrRelayFailure)
	}
	return g.stream, nil
}

func (g *fakeGateway) Publish(ctx context.Context, event *nostr.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.publishErr != nil {
		return g.publishErr
	}
	g.published = append(g.published, event)
	return nil
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queries)
}

func (g *fakeGateway) lastQuery() nostr.Filter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[len(g.queries)-1]
}

// fakeStream is a gateway.Stream fed by the test
type fakeStream struct {
	events chan *nostr.Event
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan *nostr.Event, 16),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan *nostr.Event { return s.events }
func (s *fakeStream) Ready() <-chan struct{}      { return s.ready }
func (s *fakeStream) Close()                      { s.once.Do(func() { close(s.closed) }) }

// respondWith returns a responder that always delivers events
func respondWith(events ...*nostr.Event) func(nostr.Filter) ([]*nostr.Event, error) {
	return func(nostr.Filter) ([]*nostr.Event, error) {
		return events, nil
	}
}
