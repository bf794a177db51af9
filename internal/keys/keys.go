// Package keys normalizes, validates and signs with Nostr keys.
package keys

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrValidation is returned for malformed keys and ids
var ErrValidation = errors.New("validation failure")

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// KeyPair holds a hex key pair and its bech32 encodings
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	Nsec       string `json:"nsec,omitempty"`
	Npub       string `json:"npub,omitempty"`
}

// NormalizePubkey converts an npub or hex pubkey to lowercase hex
func NormalizePubkey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "npub") {
		prefix, value, err := nip19.Decode(key)
		if err != nil || prefix != "npub" {
			return "", fmt.Errorf("%w: invalid npub %q", ErrValidation, key)
		}
		return value.(string), nil
	}

	key = strings.ToLower(key)
	if !hex64.MatchString(key) {
		return "", fmt.Errorf("%w: pubkey must be npub or 64-character hex", ErrValidation)
	}
	return key, nil
}

// DecodePrivateKey converts an nsec or hex secret key to lowercase hex
func DecodePrivateKey(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "nsec") {
		prefix, value, err := nip19.Decode(input)
		if err != nil || prefix != "nsec" {
			return "", fmt.Errorf("%w: failed to decode nsec key", ErrValidation)
		}
		return value.(string), nil
	}

	input = strings.ToLower(input)
	if !hex64.MatchString(input) {
		return "", fmt.Errorf("%w: private key must be 64-character hex or valid nsec", ErrValidation)
	}
	return input, nil
}

// ValidateEventID checks a note id is 64-character lowercase hex
func ValidateEventID(id string) error {
	if !hex64.MatchString(id) {
		return fmt.Errorf("%w: note id must be a 64-character hex string", ErrValidation)
	}
	return nil
}

// FromPrivateKey derives the full key pair from an nsec or hex secret key
func FromPrivateKey(input string) (*KeyPair, error) {
	sk, err := DecodePrivateKey(input)
	if err != nil {
		return nil, err
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode nsec: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode npub: %w", err)
	}

	return &KeyPair{
		PrivateKey: sk,
		PublicKey:  pk,
		Nsec:       nsec,
		Npub:       npub,
	}, nil
}

// Generate creates a fresh key pair
func Generate() (*KeyPair, error) {
	return FromPrivateKey(nostr.GeneratePrivateKey())
}

// Sign fills pubkey, id and signature of an event template
func Sign(event *nostr.Event, secretKey string) error {
	pk, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	event.PubKey = pk
	if event.CreatedAt == 0 {
		event.CreatedAt = nostr.Now()
	}
	if event.Tags == nil {
		event.Tags = nostr.Tags{}
	}

	if err := event.Sign(secretKey); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	return nil
}

// Signer signs events on behalf of the current user
type Signer interface {
	Pubkey() string
	Sign(event *nostr.Event) error
}

// KeySigner signs with a key pair held in memory
type KeySigner struct {
	pair *KeyPair
}

// NewSigner wraps a key pair as a Signer
func NewSigner(pair *KeyPair) *KeySigner {
	return &KeySigner{pair: pair}
}

// Pubkey returns the signer's hex pubkey
func (s *KeySigner) Pubkey() string {
	return s.pair.PublicKey
}

// SecretKey returns the hex secret key
func (s *KeySigner) SecretKey() string {
	return s.pair.PrivateKey
}

// Sign signs the event with the held key
func (s *KeySigner) Sign(event *nostr.Event) error {
	return Sign(event, s.pair.PrivateKey)
}
