package feed

import (
	"context"
	"fmt"
	"slices"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/keys"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// KindContactList is the replaceable contact list kind
const KindContactList = 3

// Graph resolves follow lists from kind 3 contact lists
type Graph struct {
	gateway Gateway
	config  *config.Scope
	logger  *ops.Logger
}

// NewGraph creates a new graph resolver. cfg may be nil for no limits.
func NewGraph(gw Gateway, cfg *config.Scope, logger *ops.Logger) *Graph {
	if cfg == nil {
		cfg = &config.Scope{}
	}
	if logger == nil {
		logger = ops.Discard()
	}
	return &Graph{
		gateway: gw,
		config:  cfg,
		logger:  logger.WithComponent("graph"),
	}
}

// ContactList fetches the most recent contact list of pubkey. It returns
// nil without error when the user has none.
func (g *Graph) ContactList(ctx context.Context, pubkey string) (*nostr.Event, error) {
	events, err := g.gateway.Query(ctx, nostr.Filter{
		Kinds:   []int{KindContactList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact list: %w", err)
	}

	// relays may each return a different version; only the newest counts
	var latest *nostr.Event
	for _, event := range events {
		if event == nil || event.Kind != KindContactList || event.PubKey != pubkey {
			continue
		}
		if latest == nil || event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	}
	return latest, nil
}

// ResolveFollowing returns the pubkeys followed by pubkey, after scope
// limits. A user who follows nobody gets an empty slice.
func (g *Graph) ResolveFollowing(ctx context.Context, pubkey string) ([]string, error) {
	event, err := g.ContactList(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return []string{}, nil
	}

	following := g.applyLimits(followedPubkeys(event))
	g.logger.Debug("resolved following", "pubkey", pubkey, "count", len(following))
	return following, nil
}

// IsFollowing reports whether self's contact list contains target
func (g *Graph) IsFollowing(ctx context.Context, self, target string) (bool, error) {
	event, err := g.ContactList(ctx, self)
	if err != nil || event == nil {
		return false, err
	}
	return slices.Contains(followedPubkeys(event), target), nil
}

// SetFollow adds or removes target from the signer's contact list and
// publishes the full updated list. Tags other than the target's p tag are
// carried over unchanged.
func (g *Graph) SetFollow(ctx context.Context, signer keys.Signer, target string, follow bool) error {
	target, err := keys.NormalizePubkey(target)
	if err != nil {
		return err
	}

	current, err := g.ContactList(ctx, signer.Pubkey())
	if err != nil {
		return err
	}

	var tags nostr.Tags
	content := ""
	if current != nil {
		content = current.Content
		for _, tag := range current.Tags {
			if len(tag) >= 2 && tag[0] == "p" && tag[1] == target {
				continue
			}
			tags = append(tags, tag)
		}
	}
	if follow {
		tags = append(tags, nostr.Tag{"p", target})
	}
	if tags == nil {
		tags = nostr.Tags{}
	}

	event := &nostr.Event{
		Kind:      KindContactList,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   content,
	}
	if err := signer.Sign(event); err != nil {
		return err
	}
	if err := g.gateway.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish contact list: %w", err)
	}

	g.logger.Info("contact list updated", "target", target, "follow", follow)
	return nil
}

// followedPubkeys extracts p tags, skipping malformed entries and duplicates
func followedPubkeys(event *nostr.Event) []string {
	following := make([]string, 0, len(event.Tags))
	seen := make(map[string]bool, len(event.Tags))
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "p" || tag[1] == "" {
			continue
		}
		if seen[tag[1]] {
			continue
		}
		seen[tag[1]] = true
		following = append(following, tag[1])
	}
	return following
}

// applyLimits applies allowlist, denylist, and max_authors limits
func (g *Graph) applyLimits(authors []string) []string {
	filtered := make([]string, 0, len(authors))

	for _, author := range authors {
		// Denylist takes precedence
		if slices.Contains(g.config.DenylistPubkeys, author) {
			continue
		}

		// Check allowlist if configured
		if len(g.config.AllowlistPubkeys) > 0 && !slices.Contains(g.config.AllowlistPubkeys, author) {
			continue
		}

		filtered = append(filtered, author)
	}

	// Apply max authors cap
	if g.config.MaxAuthors > 0 && len(filtered) > g.config.MaxAuthors {
		filtered = filtered[:g.config.MaxAuthors]
	}

	return filtered
}
