package entities

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sandwichfarm/laostr/internal/profile"
)

type profileStub map[string]*profile.Profile

func (p profileStub) Get(ctx context.Context, pubkey string) (*profile.Profile, error) {
	if prof, ok := p[pubkey]; ok {
		return prof, nil
	}
	return nil, errors.New("not found")
}

type eventStub map[string]*nostr.Event

func (e eventStub) GetEvent(ctx context.Context, id string) (*nostr.Event, error) {
	return e[id], nil
}

var (
	alice = strings.Repeat("a", 64)
	bob   = strings.Repeat("b", 64)
	noteA = strings.Repeat("c", 64)
)

func TestRender(t *testing.T) {
	npubAlice, _ := nip19.EncodePublicKey(alice)
	npubBob, _ := nip19.EncodePublicKey(bob)
	note, _ := nip19.EncodeNote(noteA)

	r := NewResolver(
		profileStub{alice: {Pubkey: alice, Name: "alice"}},
		eventStub{noteA: {ID: noteA, Content: "first line\nsecond"}},
	)

	text := "hi nostr:" + npubAlice + " and nostr:" + npubBob + " see nostr:" + note + " cc nostr:" + npubAlice
	rendered, found := r.Render(context.Background(), text)

	want := "hi @alice and @bbbbbbbb...bbbbbbbb see [first line] cc @alice"
	if rendered != want {
		t.Errorf("Render() = %q, want %q", rendered, want)
	}
	if len(found) != 3 {
		t.Errorf("expected 3 distinct entities, got %d", len(found))
	}
}

func TestRenderKeepsBrokenReferences(t *testing.T) {
	r := NewResolver(nil, nil)
	text := "broken nostr:npub1notvalid"
	rendered, found := r.Render(context.Background(), text)
	if rendered != text || len(found) != 0 {
		t.Errorf("Render() = %q, %d entities", rendered, len(found))
	}
}

func TestMentions(t *testing.T) {
	npubAlice, _ := nip19.EncodePublicKey(alice)
	nprofileBob, _ := nip19.EncodeProfile(bob, []string{"wss://relay.example"})
	note, _ := nip19.EncodeNote(noteA)

	got := Mentions("nostr:" + npubAlice + " nostr:" + nprofileBob + " nostr:" + note + " nostr:" + npubAlice)
	if !slices.Equal(got, []string{alice, bob}) {
		t.Errorf("Mentions() = %v", got)
	}

	if got := Mentions("no references here"); len(got) != 0 {
		t.Errorf("Mentions() = %v, want none", got)
	}
}
