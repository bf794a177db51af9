// Package nostr is the relay gateway: one-shot queries, live subscriptions
// and publishing fanned out over a pool of relays.
package nostr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool   *nostr.SimplePool
	logger *ops.Logger

	mu     sync.RWMutex
	relays []string

	queryTimeout  time.Duration
	lookupTimeout time.Duration
	maxRelays     int
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, logger *ops.Logger) *Client {
	if logger == nil {
		logger = ops.Discard()
	}

	c := &Client{
		pool:          nostr.NewSimplePool(ctx),
		logger:        logger.WithComponent("gateway"),
		queryTimeout:  15 * time.Second,
		lookupTimeout: 10 * time.Second,
	}

	if relayConfig != nil {
		for _, url := range relayConfig.Seeds {
			c.addRelay(url)
		}
		if relayConfig.Policy.QueryTimeoutMs > 0 {
			c.queryTimeout = time.Duration(relayConfig.Policy.QueryTimeoutMs) * time.Millisecond
		}
		if relayConfig.Policy.LookupTimeoutMs > 0 {
			c.lookupTimeout = time.Duration(relayConfig.Policy.LookupTimeoutMs) * time.Millisecond
		}
		c.maxRelays = relayConfig.Policy.MaxRelays
	}

	return c
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// Relays returns the relays requests are fanned out to
func (c *Client) Relays() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	relays := slices.Clone(c.relays)
	if c.maxRelays > 0 && len(relays) > c.maxRelays {
		relays = relays[:c.maxRelays]
	}
	return relays
}

// AddRelay adds a relay to the fan-out set. Adding a known relay is a no-op.
func (c *Client) AddRelay(url string) error {
	if !ValidateRelayURL(url) {
		return fmt.Errorf("invalid relay url: %s", url)
	}
	c.addRelay(url)
	return nil
}

func (c *Client) addRelay(url string) {
	url = nostr.NormalizeURL(url)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.relays, url) {
		c.relays = append(c.relays, url)
	}
}

// RemoveRelay drops a relay from the fan-out set
func (c *Client) RemoveRelay(url string) {
	url = nostr.NormalizeURL(url)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relays = slices.DeleteFunc(c.relays, func(r string) bool { return r == url })
}

// QueryTimeout is the deadline applied to one-shot queries
func (c *Client) QueryTimeout() time.Duration {
	return c.queryTimeout
}

// LookupTimeout is the deadline applied to single-event lookups
func (c *Client) LookupTimeout() time.Duration {
	return c.lookupTimeout
}

// connect returns the relays that accepted a connection. It fails with
// ErrRelayFailure when none did.
func (c *Client) connect(ctx context.Context) ([]string, error) {
	relays := c.Relays()
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", ErrRelayFailure)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected = make([]string, 0, len(relays))
		lastErr   error
	)
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			_, err := c.pool.EnsureRelay(url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				c.logger.Debug("relay unavailable", "relay", url, "error", err)
				return
			}
			connected = append(connected, url)
		}(url)
	}
	wg.Wait()

	if len(connected) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connecting to relays", ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrRelayFailure, lastErr)
	}
	return connected, nil
}

// Query fetches events matching filter from every relay until each has sent
// end-of-stored-events or the query deadline passes. Duplicates across
// relays are returned as delivered. When the deadline passes before any
// event arrived the error is ErrTimeout; events arriving after the deadline
// are discarded.
func (c *Client) Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	relays, err := c.connect(ctx)
	if err != nil {
		c.logger.LogRelayQuery(0, 0, time.Since(start), err)
		return nil, err
	}

	events := make([]*nostr.Event, 0)
	results := c.pool.SubManyEose(ctx, relays, nostr.Filters{filter})
	for {
		select {
		case relayEvent, ok := <-results:
			if !ok {
				c.logger.LogRelayQuery(len(relays), len(events), time.Since(start), nil)
				return events, nil
			}
			if relayEvent.Event != nil {
				events = append(events, relayEvent.Event)
			}
		case <-ctx.Done():
			if len(events) == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err := fmt.Errorf("%w: query after %s", ErrTimeout, c.queryTimeout)
				c.logger.LogRelayQuery(len(relays), 0, time.Since(start), err)
				return nil, err
			}
			if len(events) == 0 {
				return nil, ctx.Err()
			}
			c.logger.LogRelayQuery(len(relays), len(events), time.Since(start), nil)
			return events, nil
		}
	}
}

// Latest returns the newest event matching filter, raced against the lookup
// deadline. It distinguishes ErrTimeout (deadline passed) from ErrNotFound
// (relays answered without a match).
func (c *Client) Latest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	relays, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	var latest *nostr.Event
	results := c.pool.SubManyEose(ctx, relays, nostr.Filters{filter})
	for {
		select {
		case relayEvent, ok := <-results:
			if !ok {
				if latest == nil {
					return nil, ErrNotFound
				}
				return latest, nil
			}
			if ev := relayEvent.Event; ev != nil && (latest == nil || ev.CreatedAt > latest.CreatedAt) {
				latest = ev
			}
		case <-ctx.Done():
			if latest != nil {
				return latest, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: lookup after %s", ErrTimeout, c.lookupTimeout)
			}
			return nil, ctx.Err()
		}
	}
}

// FetchEvent fetches a single event by ID
func (c *Client) FetchEvent(ctx context.Context, eventID string) (*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	relays, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	result := c.pool.QuerySingle(ctx, relays, nostr.Filter{IDs: []string{eventID}})
	if result == nil || result.Event == nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: event %s", ErrTimeout, eventID)
		}
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}

	return result.Event, nil
}

// Publish sends an event to every relay and returns as soon as one relay
// accepts it. It fails with ErrRelayFailure when every relay rejected it.
func (c *Client) Publish(ctx context.Context, event *nostr.Event) error {
	relays, err := c.connect(ctx)
	if err != nil {
		c.logger.LogPublish(event.ID, event.Kind, "", err)
		return err
	}

	results := c.pool.PublishMany(ctx, relays, *event)

	var lastErr error
	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
			continue
		}
		c.logger.LogPublish(event.ID, event.Kind, result.RelayURL, nil)
		// drain the rest so the pool's writers never block
		go func() {
			for range results {
			}
		}()
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no relay answered")
	}
	err = fmt.Errorf("%w: failed to publish to any relay: %v", ErrRelayFailure, lastErr)
	c.logger.LogPublish(event.ID, event.Kind, "", err)
	return err
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
