// Package entities resolves nostr: references inside note text into
// readable mentions.
package entities

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sandwichfarm/laostr/internal/profile"
)

// Entity is a resolved NIP-19 reference
type Entity struct {
	Type         string // npub, nprofile, note, nevent or naddr
	Pubkey       string
	EventID      string
	DisplayName  string
	OriginalText string
}

// Profiles looks up user metadata
type Profiles interface {
	Get(ctx context.Context, pubkey string) (*profile.Profile, error)
}

// Events looks up locally cached events. A missing event is (nil, nil).
type Events interface {
	GetEvent(ctx context.Context, id string) (*nostr.Event, error)
}

// Resolver turns references into display names. Either lookup may be nil,
// in which case references fall back to shortened keys.
type Resolver struct {
	profiles Profiles
	events   Events
}

// NewResolver creates a resolver
func NewResolver(profiles Profiles, events Events) *Resolver {
	return &Resolver{profiles: profiles, events: events}
}

var nostrEntityRegex = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+|note1[a-z0-9]+|nevent1[a-z0-9]+|naddr1[a-z0-9]+)`)

// Find returns the bech32 references in text without the nostr: prefix
func Find(text string) []string {
	matches := nostrEntityRegex.FindAllString(text, -1)
	refs := make([]string, len(matches))
	for i, match := range matches {
		refs[i] = strings.TrimPrefix(match, "nostr:")
	}
	return refs
}

// Resolve decodes one reference and looks up its display name
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Entity, error) {
	prefix, decoded, err := nip19.Decode(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference: %w", err)
	}

	entity := &Entity{Type: prefix, OriginalText: "nostr:" + ref}

	switch prefix {
	case "npub":
		entity.Pubkey = decoded.(string)
		entity.DisplayName = "@" + r.name(ctx, entity.Pubkey)
	case "nprofile":
		entity.Pubkey = decoded.(nostr.ProfilePointer).PublicKey
		entity.DisplayName = "@" + r.name(ctx, entity.Pubkey)
	case "note":
		entity.EventID = decoded.(string)
		entity.DisplayName = r.preview(ctx, entity.EventID)
	case "nevent":
		pointer := decoded.(nostr.EventPointer)
		entity.EventID = pointer.ID
		entity.Pubkey = pointer.Author
		entity.DisplayName = r.preview(ctx, entity.EventID)
	case "naddr":
		pointer := decoded.(nostr.EntityPointer)
		entity.Pubkey = pointer.PublicKey
		entity.DisplayName = fmt.Sprintf("[%s by %s]", pointer.Identifier, r.name(ctx, pointer.PublicKey))
	default:
		return nil, fmt.Errorf("unsupported reference type: %s", prefix)
	}

	return entity, nil
}

func (r *Resolver) name(ctx context.Context, pubkey string) string {
	if r.profiles != nil {
		if p, err := r.profiles.Get(ctx, pubkey); err == nil && p != nil && (p.DisplayName != "" || p.Name != "") {
			return p.Label()
		}
	}
	return truncatePubkey(pubkey)
}

func (r *Resolver) preview(ctx context.Context, id string) string {
	if r.events != nil {
		if event, err := r.events.GetEvent(ctx, id); err == nil && event != nil {
			line, _, _ := strings.Cut(event.Content, "\n")
			if line != "" {
				return "[" + truncate(line, 40) + "]"
			}
		}
	}
	return fmt.Sprintf("[note %s]", truncate(id, 11))
}

// Render replaces every reference in text with its display name and also
// returns the distinct entities found. Unresolvable references are kept.
func (r *Resolver) Render(ctx context.Context, text string) (string, []*Entity) {
	resolved := make([]*Entity, 0)
	seen := make(map[string]*Entity)

	rendered := nostrEntityRegex.ReplaceAllStringFunc(text, func(match string) string {
		if entity, ok := seen[match]; ok {
			return entity.DisplayName
		}
		entity, err := r.Resolve(ctx, strings.TrimPrefix(match, "nostr:"))
		if err != nil {
			return match
		}
		seen[match] = entity
		resolved = append(resolved, entity)
		return entity.DisplayName
	})

	return rendered, resolved
}

// Mentions returns the distinct pubkeys referenced by text, in order
func Mentions(text string) []string {
	var pubkeys []string
	seen := make(map[string]bool)
	for _, ref := range Find(text) {
		prefix, decoded, err := nip19.Decode(ref)
		if err != nil {
			continue
		}
		var pk string
		switch prefix {
		case "npub":
			pk = decoded.(string)
		case "nprofile":
			pk = decoded.(nostr.ProfilePointer).PublicKey
		default:
			continue
		}
		if !seen[pk] {
			seen[pk] = true
			pubkeys = append(pubkeys, pk)
		}
	}
	return pubkeys
}

func truncatePubkey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + "..." + pubkey[len(pubkey)-8:]
}

func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-3]) + "..."
}
