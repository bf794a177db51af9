package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/content"
	"github.com/sandwichfarm/laostr/internal/entities"
	"github.com/sandwichfarm/laostr/internal/keys"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// Controller drives one feed: initial load, polling for new notes, backward
// pagination, search and live streaming over a shared Store. At most one
// load runs at a time; overlapping calls fail fast with ErrBusy.
type Controller struct {
	gateway Gateway
	graph   *Graph
	cache   Cache
	store   *Store
	cursor  Cursor
	config  *config.Feed
	logger  *ops.Logger

	busy       atomic.Bool
	generation atomic.Uint64
	// modeMu orders generation changes against merges into the store
	modeMu sync.Mutex

	mu            sync.RWMutex
	current       Query
	user          string
	err           error
	interestUntil int64
}

// NewController creates a feed controller. cache may be nil.
func NewController(gw Gateway, graph *Graph, cache Cache, cfg *config.Feed, logger *ops.Logger) *Controller {
	if cfg == nil {
		cfg = &config.Feed{DefaultMode: string(ModeForYou), DefaultLimit: 20}
	}
	if logger == nil {
		logger = ops.Discard()
	}
	if graph == nil {
		graph = NewGraph(gw, nil, logger)
	}

	mode, err := ParseMode(cfg.DefaultMode)
	if err != nil {
		mode = ModeForYou
	}

	return &Controller{
		gateway: gw,
		graph:   graph,
		cache:   cache,
		store:   NewStore(cfg.MaxNotes),
		config:  cfg,
		logger:  logger.WithComponent("feed"),
		current: Query{Mode: mode},
	}
}

// Store returns the note collection
func (c *Controller) Store() *Store {
	return c.store
}

// Notes returns the current notes, newest first
func (c *Controller) Notes() []*nostr.Event {
	return c.store.Snapshot()
}

// SetUser sets the pubkey whose follows the following mode shows.
// An empty pubkey logs out.
func (c *Controller) SetUser(pubkey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = pubkey
}

// User returns the current user's pubkey, empty when logged out
func (c *Controller) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Current returns the query of the feed being shown
func (c *Controller) Current() Query {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Err returns the error of the last load, nil if it succeeded
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Busy reports whether a load is in flight
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// HighWaterMark returns the newest created_at merged by a load, 0 before
// the first successful load
func (c *Controller) HighWaterMark() int64 {
	return c.cursor.Since()
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Controller) acquire() error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (c *Controller) release() {
	c.busy.Store(false)
}

// commit runs merge unless the mode changed since gen was read. It reports
// whether merge ran.
func (c *Controller) commit(gen uint64, merge func()) bool {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	if c.generation.Load() != gen {
		return false
	}
	merge()
	return true
}

// SetMode switches the feed to q. The note collection and high-water mark
// are cleared and results of loads still in flight are discarded.
func (c *Controller) SetMode(q Query) error {
	q = c.normalize(q)
	if err := q.Validate(); err != nil {
		return err
	}

	c.modeMu.Lock()
	c.generation.Add(1)
	c.store.Reset()
	c.cursor.Reset()
	c.modeMu.Unlock()

	c.mu.Lock()
	c.current = q
	c.err = nil
	c.interestUntil = 0
	c.mu.Unlock()

	c.logger.Debug("feed mode changed", "mode", q.Mode, "hashtag", q.Hashtag)
	return nil
}

// normalize fills the mode from the current feed and the limit from config
func (c *Controller) normalize(q Query) Query {
	if q.Mode == "" {
		current := c.Current()
		q.Mode = current.Mode
		if q.Hashtag == "" {
			q.Hashtag = current.Hashtag
		}
	}
	if q.Limit == 0 {
		q.Limit = c.config.DefaultLimit
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	return q
}

// filterFor builds the relay filter for q. skip is true when the query can
// only match nothing, such as the following mode for a user with no follows.
func (c *Controller) filterFor(ctx context.Context, q Query) (nostr.Filter, bool, error) {
	if q.Mode == ModeFollowing {
		user := c.User()
		if user == "" {
			return nostr.Filter{}, false, fmt.Errorf("%w: following feed needs a logged in user", ErrUnauthenticated)
		}

		authors, err := c.graph.ResolveFollowing(ctx, user)
		if err != nil {
			return nostr.Filter{}, false, err
		}
		if len(authors) == 0 {
			return nostr.Filter{}, true, nil
		}
		q.Authors = authors
	}
	return q.Filter(), false, nil
}

// fetch runs one page query and merges it. The caller holds the busy flag.
// keep, when set, drops events before the merge; older selects the
// backward-pagination merge which never trims the collection.
func (c *Controller) fetch(ctx context.Context, op string, q Query, keep func(*nostr.Event) bool, older bool) ([]*nostr.Event, []*nostr.Event, error) {
	gen := c.generation.Load()

	if err := q.Validate(); err != nil {
		c.setErr(err)
		return nil, nil, err
	}

	filter, skip, err := c.filterFor(ctx, q)
	if err != nil {
		c.setErr(err)
		return nil, nil, err
	}
	if skip {
		c.setErr(nil)
		return []*nostr.Event{}, []*nostr.Event{}, nil
	}

	events, err := c.gateway.Query(ctx, filter)
	if err != nil {
		err = fmt.Errorf("failed to %s: %w", op, err)
		c.setErr(err)
		return nil, nil, err
	}

	page := make([]*nostr.Event, 0, len(events))
	for _, event := range Diff(events, nil) {
		if event.Kind != KindNote {
			continue
		}
		if keep != nil && !keep(event) {
			continue
		}
		page = append(page, event)
	}
	SortNewestFirst(page)

	var added []*nostr.Event
	merged := c.commit(gen, func() {
		if older {
			added = c.store.Append(page)
		} else {
			added = c.store.Merge(page)
			c.cursor.Advance(page)
		}
	})
	if !merged {
		c.logger.Debug("discarding stale page", "operation", op, "events", len(events))
		return nil, nil, ErrStale
	}
	c.setErr(nil)
	c.cacheEvents(ctx, added)

	c.logger.LogFeedLoad(op, string(q.Mode), len(events), len(added), c.cursor.Since())
	return page, added, nil
}

func (c *Controller) cacheEvents(ctx context.Context, events []*nostr.Event) {
	if c.cache == nil || !c.config.CacheNotes || len(events) == 0 {
		return
	}
	start := time.Now()
	_, err := c.cache.StoreEvents(ctx, events)
	c.logger.LogStorageOperation("cache_notes", time.Since(start), err)
}

// LoadNotesOnce loads the first page of q, remembers q as the current feed
// and returns the note collection. On failure the collection is untouched
// and the error is also available from Err.
func (c *Controller) LoadNotesOnce(ctx context.Context, q Query) ([]*nostr.Event, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	q = c.normalize(q)
	if err := q.Validate(); err != nil {
		c.setErr(err)
		return nil, err
	}

	c.mu.Lock()
	c.current = q
	c.mu.Unlock()

	if _, _, err := c.fetch(ctx, "load notes", q, nil, false); err != nil {
		return nil, err
	}
	return c.store.Snapshot(), nil
}

// CheckNewNotes polls the current feed for notes newer than the high-water
// mark. It reports false without querying before anything was loaded.
func (c *Controller) CheckNewNotes(ctx context.Context) (bool, error) {
	added, err := c.PollNewNotes(ctx)
	return len(added) > 0, err
}

// PollNewNotes is CheckNewNotes returning the notes that were new to the
// collection, newest first
func (c *Controller) PollNewNotes(ctx context.Context) ([]*nostr.Event, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	hwm := c.cursor.Since()
	if hwm == 0 {
		return []*nostr.Event{}, nil
	}

	q := c.Current()
	q.Since = hwm + 1
	q.Until = 0
	q = c.normalize(q)

	// relays do not all honor since; old notes must not count as new
	keep := func(e *nostr.Event) bool { return int64(e.CreatedAt) > hwm }

	_, added, err := c.fetch(ctx, "check new notes", q, keep, false)
	if err != nil {
		return nil, err
	}
	return added, nil
}

// LoadOlderNotes loads the page strictly older than the oldest note held
// and reports whether the page was non-empty. An empty collection returns
// false without querying. An empty page is the only end-of-feed signal.
func (c *Controller) LoadOlderNotes(ctx context.Context, q Query) (bool, error) {
	if err := c.acquire(); err != nil {
		return false, err
	}
	defer c.release()

	oldest := c.store.Oldest()
	if c.store.Len() == 0 || oldest == 0 {
		return false, nil
	}

	q = c.normalize(q)
	q.Since = 0
	q.Until = int64(oldest) - 1

	// relays do not all honor until; never let a newer event into the tail
	keep := func(e *nostr.Event) bool { return e.CreatedAt < oldest }

	page, _, err := c.fetch(ctx, "load older notes", q, keep, true)
	if err != nil {
		return false, err
	}
	return len(page) > 0, nil
}

// SearchNotes fetches a page of q and returns the notes of that page whose
// content contains text, ignoring case. Relays have no full-text search, so
// only the fetched page is searched. Blank text returns nothing.
func (c *Controller) SearchNotes(ctx context.Context, text string, q Query) ([]*nostr.Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []*nostr.Event{}, nil
	}

	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	q = c.normalize(q)
	page, _, err := c.fetch(ctx, "search notes", q, nil, false)
	if err != nil {
		return nil, err
	}

	matches := make([]*nostr.Event, 0, len(page))
	for _, event := range page {
		if content.ContainsFold(event.Content, text) {
			matches = append(matches, event)
		}
	}
	return matches, nil
}

// LoadInterestFeed loads notes tagged with any of topics, paging backward
// from its own cursor on every call. It returns the page merged.
func (c *Controller) LoadInterestFeed(ctx context.Context, topics []string, limit int) ([]*nostr.Event, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if limit <= 0 {
		limit = c.normalize(Query{}).Limit
	}

	c.mu.RLock()
	until := c.interestUntil
	c.mu.RUnlock()
	if until > 0 {
		until--
	}

	filter := TopicFilter(topics, until, limit)
	if len(filter.Tags["t"]) == 0 {
		delete(filter.Tags, "t")
	}

	gen := c.generation.Load()
	events, err := c.gateway.Query(ctx, filter)
	if err != nil {
		err = fmt.Errorf("failed to load interest feed: %w", err)
		c.setErr(err)
		return nil, err
	}

	page := make([]*nostr.Event, 0, len(events))
	for _, event := range Diff(events, nil) {
		if event.Kind == KindNote && (until == 0 || int64(event.CreatedAt) <= until) {
			page = append(page, event)
		}
	}
	SortNewestFirst(page)

	// interest pages are appended untrimmed so the cap never evicts the page
	// being returned; only the first page moves the high-water mark
	var added []*nostr.Event
	if !c.commit(gen, func() {
		added = c.store.Append(page)
		if until == 0 {
			c.cursor.Advance(page)
		}
	}) {
		return nil, ErrStale
	}
	c.setErr(nil)
	c.cacheEvents(ctx, added)

	if len(page) > 0 {
		c.mu.Lock()
		c.interestUntil = int64(page[len(page)-1].CreatedAt)
		c.mu.Unlock()
	}

	c.logger.LogFeedLoad("load interest feed", "interest", len(events), len(added), c.cursor.Since())
	return page, nil
}

// Restore seeds the collection from the local event cache so a restarted
// client has something to show before relays answer. It returns the number
// of notes restored and does not move the high-water mark, so the next
// poll still asks relays for everything newer than what they delivered.
func (c *Controller) Restore(ctx context.Context, q Query) (int, error) {
	if c.cache == nil {
		return 0, nil
	}

	q = c.normalize(q)
	filter, skip, err := c.filterFor(ctx, q)
	if err != nil || skip {
		return 0, err
	}
	filter.Since, filter.Until = nil, nil

	events, err := c.cache.QueryEvents(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to restore notes: %w", err)
	}
	return len(c.store.Merge(events)), nil
}

// PostNote publishes a note signed by signer, tagged with its hashtags and
// the users it mentions. The note appears in the collection at once and is
// removed again if no relay accepts it.
func (c *Controller) PostNote(ctx context.Context, text string, signer keys.Signer) (*nostr.Event, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: posting needs a logged in user", ErrUnauthenticated)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: note is empty", keys.ErrValidation)
	}

	tags := nostr.Tags{}
	seen := make(map[string]bool)
	for _, tag := range content.ExtractHashtags(text) {
		tag = strings.ToLower(tag)
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, nostr.Tag{"t", tag})
		}
	}
	for _, pk := range entities.Mentions(text) {
		tags = append(tags, nostr.Tag{"p", pk})
	}

	event := &nostr.Event{
		Kind:      KindNote,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   text,
	}
	if err := signer.Sign(event); err != nil {
		return nil, err
	}

	c.store.Insert(event)
	if err := c.gateway.Publish(ctx, event); err != nil {
		c.store.Remove(event.ID)
		err = fmt.Errorf("failed to post note: %w", err)
		c.setErr(err)
		return nil, err
	}

	c.cursor.AdvanceTo(int64(event.CreatedAt))
	c.cacheEvents(ctx, []*nostr.Event{event})
	return event, nil
}

// GetNoteByID looks a note up in the collection, then the local cache, then
// the relays
func (c *Controller) GetNoteByID(ctx context.Context, id string) (*nostr.Event, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if err := keys.ValidateEventID(id); err != nil {
		return nil, err
	}

	if event, ok := c.store.Get(id); ok {
		return event, nil
	}

	if c.cache != nil {
		event, err := c.cache.GetEvent(ctx, id)
		if err != nil {
			c.logger.Warn("cache lookup failed", "id", id, "error", err)
		} else if event != nil {
			return event, nil
		}
	}

	event, err := c.gateway.FetchEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch note %s: %w", id, err)
	}
	if event == nil || event.ID != id {
		return nil, fmt.Errorf("note %s: %w", id, gateway.ErrNotFound)
	}
	return event, nil
}
