package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/keys"
	"github.com/sandwichfarm/laostr/internal/ops"
	"github.com/sandwichfarm/laostr/internal/storage"
)

const bookmarksD = "bookmarks"

// Bookmarks is the user's bookmark list: one replaceable event whose e tags
// name the bookmarked notes. The latest fetched list is cached in the state
// store for offline reads.
type Bookmarks struct {
	gateway Gateway
	kv      storage.KV
	logger  *ops.Logger
	now     func() time.Time
}

// NewBookmarks creates a bookmark list. kv may be nil to skip caching.
func NewBookmarks(gw Gateway, kv storage.KV, logger *ops.Logger) *Bookmarks {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Bookmarks{gateway: gw, kv: kv, logger: logger.WithComponent("bookmarks"), now: time.Now}
}

// Fetch returns the newest bookmark list event of pubkey, nil if the user
// has none
func (b *Bookmarks) Fetch(ctx context.Context, pubkey string) (*nostr.Event, error) {
	events, err := b.gateway.Query(ctx, nostr.Filter{
		Kinds:   []int{KindPrivateList},
		Authors: []string{pubkey},
		Tags:    nostr.TagMap{"d": []string{bookmarksD}},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookmarks: %w", err)
	}

	// bookmark lists usually have empty content, so no tombstone handling
	var latest *nostr.Event
	for _, event := range events {
		if event == nil || event.PubKey != pubkey || event.Tags.GetD() != bookmarksD {
			continue
		}
		if latest == nil || event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	}

	if latest != nil && b.kv != nil {
		if err := storage.SetJSON(ctx, b.kv, storage.KeyBookmarks, latest); err != nil {
			b.logger.Warn("failed to cache bookmarks", "error", err)
		}
	}
	return latest, nil
}

// Cached returns the bookmark list from the last successful Fetch
func (b *Bookmarks) Cached(ctx context.Context) (*nostr.Event, error) {
	if b.kv == nil {
		return nil, nil
	}
	var event nostr.Event
	ok, err := storage.GetJSON(ctx, b.kv, storage.KeyBookmarks, &event)
	if err != nil || !ok {
		return nil, err
	}
	return &event, nil
}

// IDs returns the bookmarked note ids of pubkey in list order
func (b *Bookmarks) IDs(ctx context.Context, pubkey string) ([]string, error) {
	event, err := b.Fetch(ctx, pubkey)
	if err != nil || event == nil {
		return []string{}, err
	}
	return bookmarkedIDs(event), nil
}

func bookmarkedIDs(event *nostr.Event) []string {
	ids := make([]string, 0, len(event.Tags))
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" && tag[1] != "" {
			ids = append(ids, tag[1])
		}
	}
	return ids
}

// Set adds or removes a note from the signer's bookmark list and publishes
// the updated list
func (b *Bookmarks) Set(ctx context.Context, signer keys.Signer, eventID string, bookmarked bool) error {
	if err := keys.ValidateEventID(eventID); err != nil {
		return err
	}

	current, err := b.Fetch(ctx, signer.Pubkey())
	if err != nil {
		return err
	}

	tags := nostr.Tags{{"d", bookmarksD}}
	if current != nil {
		for _, tag := range current.Tags {
			if len(tag) >= 1 && tag[0] == "d" {
				continue
			}
			if len(tag) >= 2 && tag[0] == "e" && tag[1] == eventID {
				continue
			}
			tags = append(tags, tag)
		}
	}
	if bookmarked {
		tags = append(tags, nostr.Tag{"e", eventID})
	}

	event := &nostr.Event{
		Kind:      KindPrivateList,
		CreatedAt: nostr.Timestamp(b.now().Unix()),
		Tags:      tags,
	}
	if current != nil {
		event.Content = current.Content
	}
	if err := signer.Sign(event); err != nil {
		return err
	}
	if err := b.gateway.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish bookmarks: %w", err)
	}

	if b.kv != nil {
		if err := storage.SetJSON(ctx, b.kv, storage.KeyBookmarks, event); err != nil {
			b.logger.Warn("failed to cache bookmarks", "error", err)
		}
	}
	return nil
}
