// Package account persists the user's keys, known accounts and the current
// user's profile in the state store.
package account

import (
	"context"
	"fmt"
	"slices"

	"github.com/sandwichfarm/laostr/internal/feed"
	"github.com/sandwichfarm/laostr/internal/keys"
	"github.com/sandwichfarm/laostr/internal/ops"
	"github.com/sandwichfarm/laostr/internal/profile"
	"github.com/sandwichfarm/laostr/internal/storage"
)

// Manager reads and writes accounts
type Manager struct {
	kv     storage.KV
	logger *ops.Logger
}

// NewManager creates an account manager over kv
func NewManager(kv storage.KV, logger *ops.Logger) *Manager {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Manager{kv: kv, logger: logger.WithComponent("account")}
}

// Setup logs in with an nsec or hex secret key. The account becomes the
// current user and is remembered in the account list.
func (m *Manager) Setup(ctx context.Context, secret string) (*keys.KeyPair, error) {
	pair, err := keys.FromPrivateKey(secret)
	if err != nil {
		return nil, err
	}
	if err := m.activate(ctx, pair); err != nil {
		return nil, err
	}
	m.logger.Info("logged in", "npub", pair.Npub)
	return pair, nil
}

// Create generates a fresh key pair and logs in with it
func (m *Manager) Create(ctx context.Context) (*keys.KeyPair, error) {
	pair, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keys: %w", err)
	}
	if err := m.activate(ctx, pair); err != nil {
		return nil, err
	}
	m.logger.Info("account created", "npub", pair.Npub)
	return pair, nil
}

func (m *Manager) activate(ctx context.Context, pair *keys.KeyPair) error {
	if err := storage.SetJSON(ctx, m.kv, storage.KeyUser, pair); err != nil {
		return fmt.Errorf("failed to save current user: %w", err)
	}

	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(list, func(p keys.KeyPair) bool { return p.PublicKey == pair.PublicKey }) {
		list = append(list, *pair)
		if err := storage.SetJSON(ctx, m.kv, storage.KeyUserList, list); err != nil {
			return fmt.Errorf("failed to save account list: %w", err)
		}
	}

	// the cached profile belonged to the previous user
	if err := m.kv.Delete(ctx, storage.KeyCurrentUserInfo); err != nil {
		return fmt.Errorf("failed to clear profile: %w", err)
	}
	return nil
}

// Current returns the logged in account. It fails with
// feed.ErrUnauthenticated when nobody is logged in.
func (m *Manager) Current(ctx context.Context) (*keys.KeyPair, error) {
	var pair keys.KeyPair
	ok, err := storage.GetJSON(ctx, m.kv, storage.KeyUser, &pair)
	if err != nil {
		return nil, fmt.Errorf("failed to load current user: %w", err)
	}
	if !ok || pair.PublicKey == "" {
		return nil, feed.ErrUnauthenticated
	}
	return &pair, nil
}

// Signer returns a signer for the logged in account
func (m *Manager) Signer(ctx context.Context) (*keys.KeySigner, error) {
	pair, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return keys.NewSigner(pair), nil
}

// List returns every account that has logged in on this device
func (m *Manager) List(ctx context.Context) ([]keys.KeyPair, error) {
	var list []keys.KeyPair
	if _, err := storage.GetJSON(ctx, m.kv, storage.KeyUserList, &list); err != nil {
		return nil, fmt.Errorf("failed to load account list: %w", err)
	}
	return list, nil
}

// Switch makes a remembered account current. pubkey may be npub or hex.
func (m *Manager) Switch(ctx context.Context, pubkey string) (*keys.KeyPair, error) {
	pubkey, err := keys.NormalizePubkey(pubkey)
	if err != nil {
		return nil, err
	}

	list, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(list, func(p keys.KeyPair) bool { return p.PublicKey == pubkey })
	if i < 0 {
		return nil, fmt.Errorf("%w: no saved account %s", feed.ErrUnauthenticated, pubkey)
	}

	pair := list[i]
	if err := m.activate(ctx, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Remove forgets an account, logging out if it is the current one
func (m *Manager) Remove(ctx context.Context, pubkey string) error {
	pubkey, err := keys.NormalizePubkey(pubkey)
	if err != nil {
		return err
	}

	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	list = slices.DeleteFunc(list, func(p keys.KeyPair) bool { return p.PublicKey == pubkey })
	if err := storage.SetJSON(ctx, m.kv, storage.KeyUserList, list); err != nil {
		return fmt.Errorf("failed to save account list: %w", err)
	}

	if current, err := m.Current(ctx); err == nil && current.PublicKey == pubkey {
		return m.Logout(ctx)
	}
	return nil
}

// Logout clears the current user. Remembered accounts are kept.
func (m *Manager) Logout(ctx context.Context) error {
	for _, key := range []string{storage.KeyUser, storage.KeyCurrentUserInfo} {
		if err := m.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to log out: %w", err)
		}
	}
	m.logger.Info("logged out")
	return nil
}

// SaveProfile caches the current user's profile
func (m *Manager) SaveProfile(ctx context.Context, p *profile.Profile) error {
	if err := storage.SetJSON(ctx, m.kv, storage.KeyCurrentUserInfo, p); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Profile returns the cached profile of the current user, nil if none
func (m *Manager) Profile(ctx context.Context) (*profile.Profile, error) {
	var p profile.Profile
	ok, err := storage.GetJSON(ctx, m.kv, storage.KeyCurrentUserInfo, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}
