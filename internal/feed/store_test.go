package feed

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func randomEvents(r *rand.Rand, n int) []*nostr.Event {
	events := make([]*nostr.Event, n)
	for i := range events {
		// small id space so batches overlap
		events[i] = note(fmt.Sprintf("e%d", r.Intn(30)), int64(r.Intn(50)))
	}
	return events
}

func idSet(events ...[]*nostr.Event) map[string]bool {
	set := make(map[string]bool)
	for _, batch := range events {
		for _, e := range batch {
			set[e.ID] = true
		}
	}
	return set
}

func TestMergeProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		a := randomEvents(r, r.Intn(20))
		b := randomEvents(r, r.Intn(20))

		merged := Merge(a, b)

		// no duplicates, nothing lost
		seen := make(map[string]bool)
		for _, e := range merged {
			if seen[e.ID] {
				t.Fatalf("duplicate id %s in merge", e.ID)
			}
			seen[e.ID] = true
		}
		want := idSet(a, b)
		if len(seen) != len(want) {
			t.Fatalf("merge kept %d ids, want %d", len(seen), len(want))
		}

		// idempotence
		again := Merge(a, merged)
		if len(idSet(again)) != len(idSet(merged)) || len(again) != len(merged) {
			t.Fatalf("re-merging grew the collection: %d -> %d", len(merged), len(again))
		}

		// sorted
		SortNewestFirst(merged)
		for j := 1; j < len(merged); j++ {
			if merged[j-1].CreatedAt < merged[j].CreatedAt {
				t.Fatalf("not sorted at %d: %d < %d", j, merged[j-1].CreatedAt, merged[j].CreatedAt)
			}
		}
	}
}

func TestMergeIncomingFirst(t *testing.T) {
	existing := []*nostr.Event{note("a", 100), note("c", 50)}
	incomingA := note("a", 100)
	incoming := []*nostr.Event{incomingA, note("b", 200), note("b", 200)}

	merged := Merge(incoming, existing)
	if got := ids(merged); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("Merge() = %v", got)
	}
	if merged[0] != incomingA {
		t.Error("expected the incoming copy of a to win")
	}
}

func TestMergeEmptyIncoming(t *testing.T) {
	existing := []*nostr.Event{note("a", 100)}
	if got := Merge(nil, existing); len(got) != 1 || got[0] != existing[0] {
		t.Errorf("Merge(nil, existing) = %v", ids(got))
	}
}

func TestDiff(t *testing.T) {
	existing := []*nostr.Event{note("a", 1)}
	incoming := []*nostr.Event{note("a", 1), note("b", 2), note("b", 2), nil, note("c", 3)}

	if got := ids(Diff(incoming, existing)); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Diff() = %v", got)
	}
	if got := Diff(nil, existing); len(got) != 0 {
		t.Errorf("Diff(nil) = %v", ids(got))
	}
}

func TestSortNewestFirstStable(t *testing.T) {
	events := []*nostr.Event{note("x", 10), note("y", 20), note("z", 10)}
	SortNewestFirst(events)
	if got := ids(events); !slices.Equal(got, []string{"y", "x", "z"}) {
		t.Errorf("SortNewestFirst() = %v", got)
	}
}

func TestStoreMerge(t *testing.T) {
	s := NewStore(0)
	s.Merge([]*nostr.Event{note("a", 100)})

	added := s.Merge([]*nostr.Event{note("a", 100), note("b", 200)})
	if got := ids(added); !slices.Equal(got, []string{"b"}) {
		t.Errorf("added = %v, want [b]", got)
	}
	if got := ids(s.Snapshot()); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("Snapshot() = %v, want [b a]", got)
	}
	if s.Newest() != 200 || s.Oldest() != 100 || s.Len() != 2 {
		t.Errorf("Newest/Oldest/Len = %d/%d/%d", s.Newest(), s.Oldest(), s.Len())
	}

	if added := s.Merge([]*nostr.Event{note("b", 200)}); len(added) != 0 {
		t.Errorf("duplicate merge added %v", ids(added))
	}
}

func TestStoreCap(t *testing.T) {
	s := NewStore(2)
	s.Merge([]*nostr.Event{note("a", 1), note("b", 2), note("c", 3)})

	if got := ids(s.Snapshot()); !slices.Equal(got, []string{"c", "b"}) {
		t.Fatalf("Snapshot() = %v, want [c b]", got)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("trimmed event still indexed")
	}

	// older pages are appended past the cap
	s.Append([]*nostr.Event{note("z", 0)})
	if s.Len() != 3 {
		t.Errorf("Len() = %d after Append, want 3", s.Len())
	}
}

func TestStoreInsertRemove(t *testing.T) {
	s := NewStore(0)
	if !s.Insert(note("a", 1)) {
		t.Fatal("Insert() = false")
	}
	if s.Insert(note("a", 1)) {
		t.Error("second Insert() = true")
	}
	if !s.Remove("a") {
		t.Fatal("Remove() = false")
	}
	if s.Remove("a") || s.Len() != 0 {
		t.Error("event still present after Remove")
	}
	if s.Oldest() != 0 || s.Newest() != 0 {
		t.Error("empty store should report zero timestamps")
	}
}

func TestStoreConcurrentMerge(t *testing.T) {
	s := NewStore(0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Merge([]*nostr.Event{note(fmt.Sprintf("e%d", i), int64(i))})
				_ = s.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	snapshot := s.Snapshot()
	if len(snapshot) != 50 {
		t.Fatalf("Len() = %d, want 50", len(snapshot))
	}
	for i := 1; i < len(snapshot); i++ {
		if snapshot[i-1].CreatedAt < snapshot[i].CreatedAt {
			t.Fatal("collection not sorted after concurrent merges")
		}
	}
}
