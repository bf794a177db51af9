package feed

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// LiveFeed streams notes into the controller's Store as relays deliver
// them. Events forwards each note that was new to the Store.
type LiveFeed struct {
	controller *Controller
	gen        uint64
	ctx        context.Context
	events     chan *nostr.Event
	ready      chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once

	mu     sync.Mutex
	closed bool
}

// Events returns newly merged notes. The channel is closed after Close or
// when the relays end the subscription.
func (l *LiveFeed) Events() <-chan *nostr.Event {
	return l.events
}

// Ready is closed once the stored backlog has been delivered
func (l *LiveFeed) Ready() <-chan struct{} {
	return l.ready
}

// Close stops the stream and waits for it to wind down
func (l *LiveFeed) Close() {
	l.once.Do(l.cancel)
	<-l.done
}

// send forwards event on Events. It reports false once the feed is closed.
func (l *LiveFeed) send(event *nostr.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.events <- event:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *LiveFeed) closeEvents() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
}

// Poll checks the relays for notes newer than the high-water mark and
// forwards the new ones on Events, oldest first, so a dropped subscription
// does not lose notes. It returns the number forwarded.
func (l *LiveFeed) Poll(ctx context.Context) (int, error) {
	if l.controller.generation.Load() != l.gen {
		return 0, ErrStale
	}
	added, err := l.controller.PollNewNotes(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := len(added) - 1; i >= 0; i-- {
		if !l.send(added[i]) {
			break
		}
		sent++
	}
	return sent, nil
}

// SubscribeNotes opens a live variant of q. It does not take the busy flag:
// merges from the stream interleave safely with one-shot loads. Notes that
// arrive after a mode switch are dropped.
func (c *Controller) SubscribeNotes(ctx context.Context, q Query) (*LiveFeed, error) {
	q = c.normalize(q)
	if err := q.Validate(); err != nil {
		return nil, err
	}

	buffer := c.config.LiveBuffer
	if buffer <= 0 {
		buffer = 256
	}

	ctx, cancel := context.WithCancel(ctx)
	live := &LiveFeed{
		controller: c,
		gen:        c.generation.Load(),
		ctx:        ctx,
		events:     make(chan *nostr.Event, buffer),
		ready:  make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	filter, skip, err := c.filterFor(ctx, q)
	if err != nil {
		cancel()
		return nil, err
	}
	if skip {
		close(live.ready)
		live.closeEvents()
		close(live.done)
		return live, nil
	}

	stream, err := c.gateway.Subscribe(ctx, filter)
	if err != nil {
		cancel()
		return nil, err
	}

	gen := live.gen
	logger := c.logger.WithFields("mode", string(q.Mode), "hashtag", q.Hashtag)
	logger.Debug("live feed opened")
	go func() {
		forwarded := 0
		defer func() { logger.Debug("live feed closed", "forwarded", forwarded) }()
		defer close(live.done)
		defer live.closeEvents()
		defer stream.Close()

		ready := stream.Ready()
		in := stream.Events()
		defer func() {
			// a stream that ends early still releases waiters on Ready
			if ready != nil {
				close(live.ready)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ready:
				close(live.ready)
				ready = nil
			case event, ok := <-in:
				if !ok {
					return
				}
				if event == nil || event.Kind != KindNote {
					continue
				}
				var added []*nostr.Event
				if !c.commit(gen, func() {
					added = c.store.Merge([]*nostr.Event{event})
					c.cursor.Advance(added)
				}) || len(added) == 0 {
					continue
				}
				c.cacheEvents(ctx, added)

				if !live.send(event) {
					return
				}
				forwarded++
			}
		}
	}()

	return live, nil
}
