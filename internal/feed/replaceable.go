package feed

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ReplaceableKey identifies a parameterized replaceable event
type ReplaceableKey struct {
	PubKey string
	Kind   int
	D      string
}

// KeyOf returns the replaceable key of event
func KeyOf(event *nostr.Event) ReplaceableKey {
	return ReplaceableKey{PubKey: event.PubKey, Kind: event.Kind, D: event.Tags.GetD()}
}

func (k ReplaceableKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.Kind, k.PubKey, k.D)
}

// LatestReplaceable keeps only the newest version of each replaceable key,
// newest first. A newest version with empty content is a tombstone: the
// key is dropped entirely. Equal timestamps resolve to the lower id.
func LatestReplaceable(events []*nostr.Event) []*nostr.Event {
	latest := make(map[ReplaceableKey]*nostr.Event, len(events))
	order := make([]ReplaceableKey, 0, len(events))

	for _, event := range events {
		if event == nil {
			continue
		}
		key := KeyOf(event)
		current, ok := latest[key]
		if !ok {
			order = append(order, key)
			latest[key] = event
			continue
		}
		if event.CreatedAt > current.CreatedAt ||
			(event.CreatedAt == current.CreatedAt && event.ID < current.ID) {
			latest[key] = event
		}
	}

	result := make([]*nostr.Event, 0, len(order))
	for _, key := range order {
		if event := latest[key]; event.Content != "" {
			result = append(result, event)
		}
	}
	SortNewestFirst(result)
	return result
}
