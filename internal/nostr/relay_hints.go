package nostr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// KindRelayList is the NIP-65 relay list kind
const KindRelayList = 10002

// RelayHint is one entry of a user's relay list
type RelayHint struct {
	URL   string
	Read  bool
	Write bool
}

// ParseRelayList extracts relay hints from a NIP-65 kind 10002 event
func ParseRelayList(event *nostr.Event) ([]RelayHint, error) {
	if event.Kind != KindRelayList {
		return nil, fmt.Errorf("%w: expected kind %d, got %d", ErrDecodeFailure, KindRelayList, event.Kind)
	}

	hints := make([]RelayHint, 0, len(event.Tags))
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		relay := strings.TrimSpace(tag[1])
		if relay == "" || !ValidateRelayURL(relay) {
			continue
		}

		hint := RelayHint{URL: nostr.NormalizeURL(relay), Read: true, Write: true}

		// Check for read/write markers
		if len(tag) >= 3 {
			switch strings.ToLower(tag[2]) {
			case "read":
				hint.Write = false
			case "write":
				hint.Read = false
			}
		}

		hints = append(hints, hint)
	}

	return hints, nil
}

// BuildRelayListEvent creates an unsigned NIP-65 kind 10002 event
func BuildRelayListEvent(hints []RelayHint) *nostr.Event {
	event := &nostr.Event{
		Kind:      KindRelayList,
		CreatedAt: nostr.Now(),
		Tags:      make(nostr.Tags, 0, len(hints)),
	}

	for _, hint := range hints {
		tag := nostr.Tag{"r", hint.URL}

		// Add read/write marker
		if hint.Read && !hint.Write {
			tag = append(tag, "read")
		} else if hint.Write && !hint.Read {
			tag = append(tag, "write")
		}

		event.Tags = append(event.Tags, tag)
	}

	return event
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(url)
}

// DiscoverRelays looks up the NIP-65 relay list of pubkey on the current
// relays and adds its read relays to the fan-out set. It returns the number
// of relays added. A user without a relay list is not an error.
func (c *Client) DiscoverRelays(ctx context.Context, pubkey string) (int, error) {
	event, err := c.Latest(ctx, nostr.Filter{
		Kinds:   []int{KindRelayList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to fetch relay list: %w", err)
	}

	hints, err := ParseRelayList(event)
	if err != nil {
		return 0, err
	}

	known := c.Relays()
	added := 0
	for _, hint := range hints {
		if !hint.Read || slices.Contains(known, hint.URL) {
			continue
		}
		c.addRelay(hint.URL)
		added++
	}

	c.logger.Info("relay list applied", "pubkey", pubkey, "hints", len(hints), "added", added)
	return added, nil
}
