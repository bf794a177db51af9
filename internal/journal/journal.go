// Package journal keeps a private journal and a bookmark list as
// parameterized replaceable events on the user's relays.
package journal

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/sandwichfarm/laostr/internal/feed"
	"github.com/sandwichfarm/laostr/internal/keys"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// KindPrivateList holds journal entries and bookmark lists
const KindPrivateList = 30001

const (
	journalTag = "journal"
	dateLayout = "2006-01-02"
)

// Gateway is the relay access the journal needs
type Gateway interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Publish(ctx context.Context, event *nostr.Event) error
}

// Owner signs entries and holds the key they are encrypted to
type Owner interface {
	keys.Signer
	SecretKey() string
}

// Entry is a decrypted journal entry
type Entry struct {
	ID        string
	Date      string
	Content   string
	CreatedAt int64
	EventID   string
}

// Journal reads and writes encrypted journal entries. Entries are
// encrypted to the owner's own key, so only the owner can read them.
type Journal struct {
	gateway Gateway
	logger  *ops.Logger
	now     func() time.Time
}

// New creates a journal
func New(gw Gateway, logger *ops.Logger) *Journal {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Journal{gateway: gw, logger: logger.WithComponent("journal"), now: time.Now}
}

func sharedKey(owner Owner) ([]byte, error) {
	key, err := nip04.ComputeSharedSecret(owner.Pubkey(), owner.SecretKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrValidation, err)
	}
	return key, nil
}

// Create writes a new entry for date (YYYY-MM-DD)
func (j *Journal) Create(ctx context.Context, owner Owner, text, date string) (*Entry, error) {
	id := strconv.FormatInt(j.now().Unix(), 10)
	entry, err := j.write(ctx, owner, id, text, date)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal entry: %w", err)
	}
	return entry, nil
}

// Update replaces the entry with id
func (j *Journal) Update(ctx context.Context, owner Owner, id, text, date string) (*Entry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: entry id is required", keys.ErrValidation)
	}
	entry, err := j.write(ctx, owner, id, text, date)
	if err != nil {
		return nil, fmt.Errorf("failed to update journal entry %s: %w", id, err)
	}
	return entry, nil
}

func (j *Journal) write(ctx context.Context, owner Owner, id, text, date string) (*Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: entry is empty", keys.ErrValidation)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", keys.ErrValidation)
	}

	key, err := sharedKey(owner)
	if err != nil {
		return nil, err
	}
	encrypted, err := nip04.Encrypt(text, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt entry: %w", err)
	}

	event := &nostr.Event{
		Kind:      KindPrivateList,
		CreatedAt: nostr.Timestamp(j.now().Unix()),
		Tags: nostr.Tags{
			{"d", id},
			{"date", date},
			{"t", journalTag},
		},
		Content: encrypted,
	}
	if err := owner.Sign(event); err != nil {
		return nil, err
	}
	if err := j.gateway.Publish(ctx, event); err != nil {
		return nil, err
	}

	return &Entry{
		ID:        id,
		Date:      date,
		Content:   text,
		CreatedAt: int64(event.CreatedAt),
		EventID:   event.ID,
	}, nil
}

// Remove replaces the entry with an empty tombstone
func (j *Journal) Remove(ctx context.Context, owner Owner, id string) error {
	event := &nostr.Event{
		Kind:      KindPrivateList,
		CreatedAt: nostr.Timestamp(j.now().Unix()),
		Tags: nostr.Tags{
			{"d", id},
			{"t", journalTag},
		},
		Content: "",
	}
	if err := owner.Sign(event); err != nil {
		return err
	}
	if err := j.gateway.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to remove journal entry %s: %w", id, err)
	}
	return nil
}

// Load returns the owner's live entries, newest date first. Entries that
// fail to decrypt are skipped with a warning.
func (j *Journal) Load(ctx context.Context, owner Owner) ([]Entry, error) {
	events, err := j.gateway.Query(ctx, nostr.Filter{
		Kinds:   []int{KindPrivateList},
		Authors: []string{owner.Pubkey()},
		Tags:    nostr.TagMap{"t": []string{journalTag}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	key, err := sharedKey(owner)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(events))
	for _, event := range feed.LatestReplaceable(events) {
		if event.PubKey != owner.Pubkey() || event.Kind != KindPrivateList {
			continue
		}
		text, err := nip04.Decrypt(event.Content, key)
		if err != nil {
			j.logger.Warn("skipping undecryptable entry", "event_id", event.ID, "error", err)
			continue
		}

		entry := Entry{
			ID:        event.Tags.GetD(),
			Content:   text,
			CreatedAt: int64(event.CreatedAt),
			EventID:   event.ID,
		}
		for _, tag := range event.Tags {
			if len(tag) >= 2 && tag[0] == "date" {
				entry.Date = tag[1]
				break
			}
		}
		entries = append(entries, entry)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	return entries, nil
}

// GetByDate returns the newest entry written for date
func (j *Journal) GetByDate(ctx context.Context, owner Owner, date string) (*Entry, error) {
	entries, err := j.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Date == date {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("journal entry for %s: %w", date, gateway.ErrNotFound)
}
