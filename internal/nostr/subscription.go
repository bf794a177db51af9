package nostr

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Stream is a live stream of events
type Stream interface {
	Events() <-chan *nostr.Event
	Ready() <-chan struct{}
	Close()
}

// Subscription is a live stream of events. Stored events are delivered
// first; Ready closes once every relay has sent end-of-stored-events, after
// which only newly published events arrive.
type Subscription struct {
	events chan *nostr.Event
	ready  chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// Events returns the event channel. It is closed after Close.
func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

// Ready is closed at end-of-stored-events
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Close stops the subscription
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Subscribe opens a live subscription for filter on every connected relay
func (c *Client) Subscribe(ctx context.Context, filter nostr.Filter) (Stream, error) {
	relays, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan *nostr.Event, 100),
		ready:  make(chan struct{}),
		cancel: cancel,
	}

	// live events start where the stored backlog was cut
	since := nostr.Now()

	go func() {
		defer close(sub.events)

		c.logger.Debug("subscription opened", "relays", len(relays))
		for relayEvent := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
			if !sub.forward(ctx, relayEvent.Event) {
				return
			}
		}
		close(sub.ready)

		live := filter
		live.Since = &since
		live.Until = nil
		live.Limit = 0
		count := 0
		for relayEvent := range c.pool.SubMany(ctx, relays, nostr.Filters{live}) {
			if relayEvent.Event != nil {
				count++
			}
			if !sub.forward(ctx, relayEvent.Event) {
				break
			}
		}
		c.logger.Debug("subscription closed", "live_events", count)
	}()

	return sub, nil
}

func (s *Subscription) forward(ctx context.Context, event *nostr.Event) bool {
	if event == nil {
		return ctx.Err() == nil
	}
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
