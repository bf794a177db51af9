// Package profile looks up kind 0 user metadata.
package profile

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sandwichfarm/laostr/internal/keys"
	gateway "github.com/sandwichfarm/laostr/internal/nostr"
	"github.com/sandwichfarm/laostr/internal/ops"
	"github.com/tidwall/gjson"
)

// KindMetadata is the replaceable profile metadata kind
const KindMetadata = 0

// Profile is the metadata a user publishes about themselves
type Profile struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Website     string `json:"website,omitempty"`
	NIP05       string `json:"nip05,omitempty"`
	LUD16       string `json:"lud16,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Label returns the best human readable name of the profile
func (p *Profile) Label() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Name != "":
		return p.Name
	case len(p.Pubkey) > 12:
		return p.Pubkey[:12]
	default:
		return p.Pubkey
	}
}

// Parse decodes a kind 0 event. Unknown fields are ignored; content that
// is not a JSON object is a decode failure.
func Parse(event *nostr.Event) (*Profile, error) {
	if event.Kind != KindMetadata {
		return nil, fmt.Errorf("%w: expected kind %d, got %d", gateway.ErrDecodeFailure, KindMetadata, event.Kind)
	}
	if !gjson.Valid(event.Content) {
		return nil, fmt.Errorf("%w: profile of %s is not valid JSON", gateway.ErrDecodeFailure, event.PubKey)
	}
	meta := gjson.Parse(event.Content)
	if !meta.IsObject() {
		return nil, fmt.Errorf("%w: profile of %s is not an object", gateway.ErrDecodeFailure, event.PubKey)
	}

	displayName := meta.Get("display_name").String()
	if displayName == "" {
		// older clients wrote camelCase
		displayName = meta.Get("displayName").String()
	}

	return &Profile{
		Pubkey:      event.PubKey,
		Name:        meta.Get("name").String(),
		DisplayName: displayName,
		About:       meta.Get("about").String(),
		Picture:     meta.Get("picture").String(),
		Banner:      meta.Get("banner").String(),
		Website:     meta.Get("website").String(),
		NIP05:       meta.Get("nip05").String(),
		LUD16:       meta.Get("lud16").String(),
		CreatedAt:   int64(event.CreatedAt),
	}, nil
}

// Gateway is the relay access profile lookups need
type Gateway interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Latest(ctx context.Context, filter nostr.Filter) (*nostr.Event, error)
}

// Service fetches and caches profiles
type Service struct {
	gateway Gateway
	cache   *xsync.MapOf[string, *Profile]
	logger  *ops.Logger
}

// NewService creates a profile service
func NewService(gw Gateway, logger *ops.Logger) *Service {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Service{
		gateway: gw,
		cache:   xsync.NewMapOf[string, *Profile](),
		logger:  logger.WithComponent("profile"),
	}
}

// Get returns the newest profile of pubkey. A lookup that runs out of time
// fails with ErrTimeout, one the relays answered without a profile with
// ErrNotFound.
func (s *Service) Get(ctx context.Context, pubkey string) (*Profile, error) {
	pubkey, err := keys.NormalizePubkey(pubkey)
	if err != nil {
		return nil, err
	}
	if p, ok := s.cache.Load(pubkey); ok {
		return p, nil
	}

	event, err := s.gateway.Latest(ctx, nostr.Filter{
		Kinds:   []int{KindMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s: %w", pubkey, err)
	}

	p, err := Parse(event)
	if err != nil {
		return nil, err
	}
	s.store(p)
	return p, nil
}

// GetBatch fetches the profiles of several users in one query. Users
// without a profile are absent from the result; malformed profiles are
// skipped with a warning.
func (s *Service) GetBatch(ctx context.Context, pubkeys []string) (map[string]*Profile, error) {
	profiles := make(map[string]*Profile, len(pubkeys))
	missing := make([]string, 0, len(pubkeys))
	for _, pk := range pubkeys {
		if p, ok := s.cache.Load(pk); ok {
			profiles[pk] = p
			continue
		}
		missing = append(missing, pk)
	}
	if len(missing) == 0 {
		return profiles, nil
	}

	events, err := s.gateway.Query(ctx, nostr.Filter{
		Kinds:   []int{KindMetadata},
		Authors: missing,
	})
	if err != nil {
		return profiles, fmt.Errorf("failed to fetch profiles: %w", err)
	}

	for _, event := range events {
		if event == nil {
			continue
		}
		if current, ok := profiles[event.PubKey]; ok && current.CreatedAt >= int64(event.CreatedAt) {
			continue
		}
		p, err := Parse(event)
		if err != nil {
			s.logger.Warn("skipping malformed profile", "pubkey", event.PubKey, "error", err)
			continue
		}
		profiles[p.Pubkey] = p
	}

	for _, pk := range missing {
		if p, ok := profiles[pk]; ok {
			s.store(p)
		}
	}
	return profiles, nil
}

// store caches p unless a newer version is already cached
func (s *Service) store(p *Profile) {
	s.cache.Compute(p.Pubkey, func(old *Profile, loaded bool) (*Profile, bool) {
		if loaded && old.CreatedAt > p.CreatedAt {
			return old, false
		}
		return p, false
	})
}

// Invalidate drops a cached profile
func (s *Service) Invalidate(pubkey string) {
	s.cache.Delete(pubkey)
}
