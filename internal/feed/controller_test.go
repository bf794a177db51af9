package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/keys"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
	"github.com/sandwichfarm/laostr/internal/storage"
)

func setupTestController(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	cfg := &config.Feed{DefaultMode: "for-you", DefaultLimit: 20, CacheNotes: true}
	return NewController(gw, nil, nil, cfg, nil)
}

func TestLoadNotesOnce(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 100), note("b", 200), note("a", 100))}
	c := setupTestController(t, gw)

	notes, err := c.LoadNotesOnce(context.Background(), Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	if got := ids(notes); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("LoadNotesOnce() = %v, want [b a]", got)
	}
	if c.HighWaterMark() != 200 {
		t.Errorf("HighWaterMark() = %d, want 200", c.HighWaterMark())
	}

	filter := gw.lastQuery()
	if filter.Limit != 20 || filter.Authors != nil || filter.Tags != nil {
		t.Errorf("unexpected for-you filter %+v", filter)
	}
}

func TestLoadNotesOnceMergesIntoExisting(t *testing.T) {
	// a collection holding a, then a page of a and b
	gw := &fakeGateway{respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	gw.respond = respondWith(note("a", 100), note("b", 200))
	notes, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	if got := ids(notes); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("LoadNotesOnce() = %v, want [b a]", got)
	}
}

func TestLoadNotesOnceHashtag(t *testing.T) {
	gw := &fakeGateway{}
	c := setupTestController(t, gw)

	if _, err := c.LoadNotesOnce(context.Background(), Query{Mode: ModeHashtag, Hashtag: "nostr", Limit: 5}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	filter := gw.lastQuery()
	if !slices.Equal(filter.Tags["t"], []string{"nostr"}) || filter.Limit != 5 {
		t.Errorf("unexpected hashtag filter %+v", filter)
	}
	if c.Current().Mode != ModeHashtag {
		t.Errorf("Current() = %+v", c.Current())
	}

	_, err := c.LoadNotesOnce(context.Background(), Query{Mode: ModeHashtag})
	if !errors.Is(err, keys.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestLoadNotesOnceFollowing(t *testing.T) {
	follows := contactList("me", 10, nostr.Tag{"p", "alice"}, nostr.Tag{"p", "bob"})
	gw := &fakeGateway{respond: func(f nostr.Filter) ([]*nostr.Event, error) {
		if slices.Contains(f.Kinds, KindContactList) {
			return []*nostr.Event{follows}, nil
		}
		return []*nostr.Event{note("n1", 50)}, nil
	}}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeFollowing}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if !errors.Is(c.Err(), ErrUnauthenticated) {
		t.Errorf("Err() = %v", c.Err())
	}
	if gw.queryCount() != 0 {
		t.Errorf("expected no queries without a user, got %d", gw.queryCount())
	}

	c.SetUser("me")
	notes, err := c.LoadNotesOnce(ctx, Query{Mode: ModeFollowing})
	if err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("expected 1 note, got %d", len(notes))
	}
	if got := gw.lastQuery().Authors; !slices.Equal(got, []string{"alice", "bob"}) {
		t.Errorf("Authors = %v", got)
	}
	if c.Err() != nil {
		t.Errorf("Err() after success = %v", c.Err())
	}
}

func TestLoadNotesOnceFollowingNobody(t *testing.T) {
	gw := &fakeGateway{}
	c := setupTestController(t, gw)
	c.SetUser("me")

	notes, err := c.LoadNotesOnce(context.Background(), Query{Mode: ModeFollowing})
	if err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %v", ids(notes))
	}
	// only the contact list lookup; never an unrestricted note query
	if gw.queryCount() != 1 {
		t.Errorf("expected 1 query, got %d", gw.queryCount())
	}
}

func TestLoadNotesOnceFailureLeavesStoreUntouched(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	gw.respond = func(nostr.Filter) ([]*nostr.Event, error) {
		return nil, gateway.ErrRelayFailure
	}
	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); !errors.Is(err, gateway.ErrRelayFailure) {
		t.Fatalf("expected ErrRelayFailure, got %v", err)
	}
	if !errors.Is(c.Err(), gateway.ErrRelayFailure) {
		t.Errorf("Err() = %v", c.Err())
	}
	if got := ids(c.Notes()); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Notes() = %v, want [a]", got)
	}
	if c.Busy() {
		t.Error("busy flag not released after failure")
	}
}

func TestBusyRejectsOverlappingLoads(t *testing.T) {
	gw := &fakeGateway{
		respond: respondWith(note("a", 100)),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := setupTestController(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou})
		done <- err
	}()
	<-gw.started

	if !c.Busy() {
		t.Error("Busy() = false during load")
	}
	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); !errors.Is(err, ErrBusy) {
		t.Errorf("LoadNotesOnce() while busy = %v, want ErrBusy", err)
	}
	if _, err := c.CheckNewNotes(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("CheckNewNotes() while busy = %v, want ErrBusy", err)
	}
	if _, err := c.LoadOlderNotes(ctx, Query{}); !errors.Is(err, ErrBusy) {
		t.Errorf("LoadOlderNotes() while busy = %v, want ErrBusy", err)
	}
	if _, err := c.SearchNotes(ctx, "x", Query{}); !errors.Is(err, ErrBusy) {
		t.Errorf("SearchNotes() while busy = %v, want ErrBusy", err)
	}
	if c.Err() != nil {
		t.Errorf("rejected calls touched the error slot: %v", c.Err())
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	if gw.queryCount() != 1 {
		t.Errorf("expected exactly 1 query, got %d", gw.queryCount())
	}
	if c.Busy() {
		t.Error("busy flag not released")
	}
}

func TestCheckNewNotesBeforeLoad(t *testing.T) {
	gw := &fakeGateway{}
	c := setupTestController(t, gw)

	hasNew, err := c.CheckNewNotes(context.Background())
	if err != nil || hasNew {
		t.Errorf("CheckNewNotes() = %v, %v; want false, nil", hasNew, err)
	}
	if gw.queryCount() != 0 {
		t.Errorf("expected no query, got %d", gw.queryCount())
	}
}

func TestCheckNewNotes(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeHashtag, Hashtag: "go"}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	// a relay redelivering a known note is not news
	gw.respond = respondWith(note("a", 100))
	hasNew, err := c.CheckNewNotes(ctx)
	if err != nil || hasNew {
		t.Errorf("CheckNewNotes() = %v, %v; want false, nil", hasNew, err)
	}
	filter := gw.lastQuery()
	if filter.Since == nil || *filter.Since != 101 {
		t.Errorf("Since = %v, want 101", filter.Since)
	}
	if !slices.Equal(filter.Tags["t"], []string{"go"}) {
		t.Errorf("check new lost the hashtag: %+v", filter)
	}

	gw.respond = respondWith(note("b", 150), note("c", 120))
	hasNew, err = c.CheckNewNotes(ctx)
	if err != nil || !hasNew {
		t.Errorf("CheckNewNotes() = %v, %v; want true, nil", hasNew, err)
	}
	if c.HighWaterMark() != 150 {
		t.Errorf("HighWaterMark() = %d, want 150", c.HighWaterMark())
	}
	if got := ids(c.Notes()); !slices.Equal(got, []string{"b", "c", "a"}) {
		t.Errorf("Notes() = %v", got)
	}

	// failed poll leaves the feed alone
	gw.respond = func(nostr.Filter) ([]*nostr.Event, error) { return nil, gateway.ErrTimeout }
	if _, err := c.CheckNewNotes(ctx); !errors.Is(err, gateway.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if c.Store().Len() != 3 || c.HighWaterMark() != 150 {
		t.Error("failed poll changed the feed")
	}
}

func TestLoadOlderNotesEmpty(t *testing.T) {
	gw := &fakeGateway{}
	c := setupTestController(t, gw)

	hasMore, err := c.LoadOlderNotes(context.Background(), Query{Mode: ModeForYou})
	if err != nil || hasMore {
		t.Errorf("LoadOlderNotes() = %v, %v; want false, nil", hasMore, err)
	}
	if gw.queryCount() != 0 {
		t.Errorf("expected no query, got %d", gw.queryCount())
	}
}

func TestLoadOlderNotes(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 300), note("b", 200))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	// a misbehaving relay returns notes at and after the cursor
	gw.respond = respondWith(note("c", 150), note("d", 200), note("e", 250), note("f", 100))
	hasMore, err := c.LoadOlderNotes(ctx, Query{})
	if err != nil || !hasMore {
		t.Fatalf("LoadOlderNotes() = %v, %v", hasMore, err)
	}

	filter := gw.lastQuery()
	if filter.Until == nil || *filter.Until != 199 {
		t.Errorf("Until = %v, want 199", filter.Until)
	}
	if filter.Since != nil {
		t.Errorf("Since = %v, want nil", filter.Since)
	}
	if got := ids(c.Notes()); !slices.Equal(got, []string{"a", "b", "c", "f"}) {
		t.Errorf("Notes() = %v, want [a b c f]", got)
	}
	if c.HighWaterMark() != 300 {
		t.Errorf("older page moved the high-water mark to %d", c.HighWaterMark())
	}

	gw.respond = respondWith()
	hasMore, err = c.LoadOlderNotes(ctx, Query{})
	if err != nil || hasMore {
		t.Errorf("LoadOlderNotes() at end = %v, %v", hasMore, err)
	}
}

func TestSearchNotes(t *testing.T) {
	first := note("a", 100)
	first.Content = "GM nostr"
	second := note("b", 200)
	second.Content = "hello world"
	gw := &fakeGateway{respond: respondWith(first, second)}
	c := setupTestController(t, gw)
	ctx := context.Background()

	results, err := c.SearchNotes(ctx, "   ", Query{})
	if err != nil || len(results) != 0 {
		t.Fatalf("SearchNotes(blank) = %v, %v", results, err)
	}
	if gw.queryCount() != 0 {
		t.Error("blank search issued a query")
	}

	results, err = c.SearchNotes(ctx, "gm", Query{Limit: 50})
	if err != nil {
		t.Fatalf("SearchNotes() error = %v", err)
	}
	if got := ids(results); !slices.Equal(got, []string{"a"}) {
		t.Errorf("SearchNotes() = %v, want [a]", got)
	}
	if gw.lastQuery().Limit != 50 {
		t.Errorf("Limit = %d", gw.lastQuery().Limit)
	}
}

func TestSetModeDiscardsInFlightResults(t *testing.T) {
	gw := &fakeGateway{
		respond: respondWith(note("a", 100)),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := setupTestController(t, gw)

	done := make(chan error, 1)
	go func() {
		_, err := c.LoadNotesOnce(context.Background(), Query{Mode: ModeForYou})
		done <- err
	}()
	<-gw.started

	if err := c.SetMode(Query{Mode: ModeHashtag, Hashtag: "go"}); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	close(gw.release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
	if c.Store().Len() != 0 || c.HighWaterMark() != 0 {
		t.Error("stale results were merged")
	}
	if c.Current().Mode != ModeHashtag {
		t.Errorf("Current() = %+v", c.Current())
	}
}

func TestPostNote(t *testing.T) {
	pair, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	signer := keys.NewSigner(pair)
	gw := &fakeGateway{}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.PostNote(ctx, "gm", nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}

	event, err := c.PostNote(ctx, "gm #Nostr #laostr #nostr", signer)
	if err != nil {
		t.Fatalf("PostNote() error = %v", err)
	}
	if len(gw.published) != 1 || gw.published[0].ID != event.ID {
		t.Fatal("note was not published")
	}
	var tags []string
	for _, tag := range event.Tags {
		tags = append(tags, tag[1])
	}
	if !slices.Equal(tags, []string{"nostr", "laostr"}) {
		t.Errorf("t tags = %v", tags)
	}
	if _, ok := c.Store().Get(event.ID); !ok {
		t.Error("posted note missing from the feed")
	}

	mention, err := c.PostNote(ctx, "hello nostr:"+pair.Npub, signer)
	if err != nil {
		t.Fatalf("PostNote() error = %v", err)
	}
	if len(mention.Tags) != 1 || mention.Tags[0][0] != "p" || mention.Tags[0][1] != pair.PublicKey {
		t.Errorf("mention tags = %v", mention.Tags)
	}

	gw.publishErr = gateway.ErrRelayFailure
	if _, err := c.PostNote(ctx, "this one fails", signer); !errors.Is(err, gateway.ErrRelayFailure) {
		t.Fatalf("expected ErrRelayFailure, got %v", err)
	}
	if c.Store().Len() != 2 {
		t.Errorf("failed note not rolled back, Len() = %d", c.Store().Len())
	}
}

func TestGetNoteByID(t *testing.T) {
	id := strings.Repeat("ab", 32)
	remote := strings.Repeat("cd", 32)
	slow := strings.Repeat("12", 32)
	gw := &fakeGateway{respond: func(f nostr.Filter) ([]*nostr.Event, error) {
		switch {
		case slices.Equal(f.IDs, []string{remote}):
			return []*nostr.Event{note(remote, 10)}, nil
		case slices.Equal(f.IDs, []string{slow}):
			return nil, fmt.Errorf("%w: lookup", gateway.ErrTimeout)
		}
		return []*nostr.Event{}, nil
	}}
	c := setupTestController(t, gw)
	c.Store().Insert(note(id, 100))
	ctx := context.Background()

	if _, err := c.GetNoteByID(ctx, "nope"); !errors.Is(err, keys.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	event, err := c.GetNoteByID(ctx, strings.ToUpper(id))
	if err != nil || event.ID != id {
		t.Fatalf("GetNoteByID(local) = %v, %v", event, err)
	}
	if gw.queryCount() != 0 {
		t.Error("local hit queried the relays")
	}

	event, err = c.GetNoteByID(ctx, remote)
	if err != nil || event.ID != remote {
		t.Fatalf("GetNoteByID(remote) = %v, %v", event, err)
	}

	if _, err := c.GetNoteByID(ctx, strings.Repeat("ef", 32)); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = c.GetNoteByID(ctx, slow)
	if !errors.Is(err, gateway.ErrTimeout) || errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("expected ErrTimeout only, got %v", err)
	}
}

func TestLoadInterestFeedPagesBackward(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 300), note("b", 200))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	page, err := c.LoadInterestFeed(ctx, []string{"go", "nostr"}, 10)
	if err != nil || len(page) != 2 {
		t.Fatalf("LoadInterestFeed() = %v, %v", ids(page), err)
	}
	filter := gw.lastQuery()
	if !slices.Equal(filter.Tags["t"], []string{"go", "nostr"}) || filter.Until != nil || filter.Limit != 10 {
		t.Errorf("unexpected first interest filter %+v", filter)
	}

	gw.respond = respondWith(note("b", 200), note("c", 150))
	page, err = c.LoadInterestFeed(ctx, []string{"go"}, 10)
	if err != nil {
		t.Fatalf("LoadInterestFeed() error = %v", err)
	}
	if got := ids(page); !slices.Equal(got, []string{"c"}) {
		t.Errorf("second page = %v, want [c]", got)
	}
	if until := gw.lastQuery().Until; until == nil || *until != 199 {
		t.Errorf("Until = %v, want 199", until)
	}

	gw.respond = respondWith()
	if _, err := c.LoadInterestFeed(ctx, nil, 0); err != nil {
		t.Fatalf("LoadInterestFeed(no topics) error = %v", err)
	}
	if _, ok := gw.lastQuery().Tags["t"]; ok {
		t.Error("no topics should not filter by #t")
	}
}

func TestRestoreFromCache(t *testing.T) {
	ctx := context.Background()
	cache, err := storage.New(ctx, &config.Storage{Driver: "memory"})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer cache.Close()

	pair, _ := keys.Generate()
	signed := func(text string, ts int64) *nostr.Event {
		e := &nostr.Event{Kind: KindNote, CreatedAt: nostr.Timestamp(ts), Content: text}
		if err := keys.Sign(e, pair.PrivateKey); err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return e
	}

	gw := &fakeGateway{respond: respondWith(signed("one", 100), signed("two", 200))}
	cfg := &config.Feed{DefaultMode: "for-you", DefaultLimit: 20, CacheNotes: true}
	first := NewController(gw, nil, cache, cfg, nil)
	if _, err := first.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	second := NewController(&fakeGateway{}, nil, cache, cfg, nil)
	restored, err := second.Restore(ctx, Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored != 2 || second.Store().Len() != 2 {
		t.Errorf("Restore() = %d, Len() = %d; want 2", restored, second.Store().Len())
	}
	if second.HighWaterMark() != 0 {
		t.Errorf("Restore moved the high-water mark to %d", second.HighWaterMark())
	}

	// the cache also answers note lookups
	want := first.Notes()[0]
	second.Store().Reset()
	got, err := second.GetNoteByID(ctx, want.ID)
	if err != nil || got.ID != want.ID {
		t.Errorf("GetNoteByID(cached) = %v, %v", got, err)
	}
}

func TestSubscribeNotes(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := setupTestController(t, gw)
	c.Store().Insert(note("known", 50))

	live, err := c.SubscribeNotes(context.Background(), Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("SubscribeNotes() error = %v", err)
	}

	stream.events <- note("known", 50)
	stream.events <- note("a", 100)
	close(stream.ready)

	select {
	case event := <-live.Events():
		if event.ID != "a" {
			t.Errorf("expected a, got %s", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}

	select {
	case <-live.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for end of stored events")
	}

	if c.HighWaterMark() != 100 || c.Store().Len() != 2 {
		t.Errorf("HighWaterMark() = %d, Len() = %d", c.HighWaterMark(), c.Store().Len())
	}

	live.Close()
	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("underlying stream not closed")
	}
	if _, ok := <-live.Events(); ok {
		t.Error("events channel still open after Close")
	}
}

func TestSubscribeNotesEndedStream(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream}
	c := setupTestController(t, gw)

	live, err := c.SubscribeNotes(context.Background(), Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("SubscribeNotes() error = %v", err)
	}
	close(stream.events)

	select {
	case <-live.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready() not released when the stream ended")
	}
	live.Close()
}

func TestLivePollForwardsNotes(t *testing.T) {
	stream := newFakeStream()
	gw := &fakeGateway{stream: stream, respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}
	live, err := c.SubscribeNotes(ctx, Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("SubscribeNotes() error = %v", err)
	}
	defer live.Close()

	gw.respond = respondWith(note("n", 200), note("a", 100))
	sent, err := live.Poll(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("Poll() = %d, %v", sent, err)
	}

	// the stream delivering the polled note again must not repeat it
	stream.events <- note("n", 200)
	stream.events <- note("b", 300)

	var got []string
	for len(got) < 2 {
		select {
		case event := <-live.Events():
			got = append(got, event.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	if !slices.Equal(got, []string{"n", "b"}) {
		t.Errorf("live events = %v, want [n b]", got)
	}
}

func TestLivePollAfterModeSwitch(t *testing.T) {
	gw := &fakeGateway{stream: newFakeStream(), respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	live, err := c.SubscribeNotes(ctx, Query{Mode: ModeForYou})
	if err != nil {
		t.Fatalf("SubscribeNotes() error = %v", err)
	}
	defer live.Close()

	if err := c.SetMode(Query{Mode: ModeHashtag, Hashtag: "go"}); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if _, err := live.Poll(ctx); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
}

func TestCheckNewNotesIgnoresRelaysWithoutSince(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 100))}
	c := setupTestController(t, gw)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	gw.respond = respondWith(note("old", 50), note("a", 100))
	found, err := c.CheckNewNotes(ctx)
	if err != nil || found {
		t.Errorf("CheckNewNotes() = %v, %v; want false", found, err)
	}
	if _, ok := c.Store().Get("old"); ok {
		t.Error("note older than the high-water mark was merged")
	}

	gw.respond = respondWith(note("old", 50), note("new", 150))
	added, err := c.PollNewNotes(ctx)
	if err != nil || !slices.Equal(ids(added), []string{"new"}) {
		t.Errorf("PollNewNotes() = %v, %v", ids(added), err)
	}
}

func TestLoadInterestFeedKeepsPageUnderCap(t *testing.T) {
	gw := &fakeGateway{respond: respondWith(note("a", 300), note("b", 200))}
	cfg := &config.Feed{DefaultMode: "for-you", DefaultLimit: 20, MaxNotes: 2}
	c := NewController(gw, nil, nil, cfg, nil)
	ctx := context.Background()

	if _, err := c.LoadNotesOnce(ctx, Query{Mode: ModeForYou}); err != nil {
		t.Fatalf("LoadNotesOnce() error = %v", err)
	}

	gw.respond = respondWith(note("old", 100))
	page, err := c.LoadInterestFeed(ctx, []string{"go"}, 10)
	if err != nil || !slices.Equal(ids(page), []string{"old"}) {
		t.Fatalf("LoadInterestFeed() = %v, %v", ids(page), err)
	}
	if _, ok := c.Store().Get("old"); !ok {
		t.Errorf("interest page evicted, notes = %v", ids(c.Notes()))
	}
	if c.HighWaterMark() != 300 {
		t.Errorf("HighWaterMark() = %d, want 300", c.HighWaterMark())
	}
}

func TestCommitAfterModeSwitch(t *testing.T) {
	c := setupTestController(t, &fakeGateway{})

	gen := c.generation.Load()
	if err := c.SetMode(Query{Mode: ModeHashtag, Hashtag: "go"}); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	ran := c.commit(gen, func() { c.store.Merge([]*nostr.Event{note("stale", 100)}) })
	if ran || c.Store().Len() != 0 {
		t.Errorf("stale merge ran = %v, Len() = %d", ran, c.Store().Len())
	}
	if !c.commit(c.generation.Load(), func() {}) {
		t.Error("commit for the current mode did not run")
	}
}
