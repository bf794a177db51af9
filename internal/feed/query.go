package feed

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/keys"
)

// KindNote is the kind of short text notes shown in the feed
const KindNote = 1

// Mode selects which notes a feed shows
type Mode string

const (
	ModeForYou    Mode = "for-you"
	ModeFollowing Mode = "following"
	ModeHashtag   Mode = "hashtag"
)

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeForYou, ModeFollowing, ModeHashtag:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown feed mode %q", keys.ErrValidation, s)
	}
}

// Query describes one page of a feed. Authors is filled in by the
// controller for the following mode; Since and Until are unix seconds,
// 0 meaning unset.
type Query struct {
	Mode    Mode
	Hashtag string
	Authors []string
	Since   int64
	Until   int64
	Limit   int
}

// Validate checks the query is well formed
func (q Query) Validate() error {
	switch q.Mode {
	case ModeForYou, ModeFollowing:
	case ModeHashtag:
		if normalizeHashtag(q.Hashtag) == "" {
			return fmt.Errorf("%w: hashtag mode requires a hashtag", keys.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown feed mode %q", keys.ErrValidation, q.Mode)
	}

	if q.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", keys.ErrValidation)
	}
	if q.Since < 0 || q.Until < 0 {
		return fmt.Errorf("%w: since and until must not be negative", keys.ErrValidation)
	}
	if q.Since > 0 && q.Until > 0 && q.Since > q.Until {
		return fmt.Errorf("%w: since %d is after until %d", keys.ErrValidation, q.Since, q.Until)
	}
	return nil
}

// Filter converts the query into a relay filter for notes
func (q Query) Filter() nostr.Filter {
	filter := nostr.Filter{
		Kinds: []int{KindNote},
		Limit: q.Limit,
	}

	if len(q.Authors) > 0 {
		filter.Authors = q.Authors
	}

	if q.Mode == ModeHashtag {
		filter.Tags = nostr.TagMap{
			"t": []string{normalizeHashtag(q.Hashtag)},
		}
	}

	if q.Since > 0 {
		since := nostr.Timestamp(q.Since)
		filter.Since = &since
	}
	if q.Until > 0 {
		until := nostr.Timestamp(q.Until)
		filter.Until = &until
	}

	return filter
}

// TopicFilter builds the filter of the interest feed: notes tagged with any
// of topics, strictly older than until when until is set
func TopicFilter(topics []string, until int64, limit int) nostr.Filter {
	tags := make([]string, 0, len(topics))
	for _, topic := range topics {
		if t := normalizeHashtag(topic); t != "" {
			tags = append(tags, t)
		}
	}

	filter := nostr.Filter{
		Kinds: []int{KindNote},
		Tags:  nostr.TagMap{"t": tags},
		Limit: limit,
	}
	if until > 0 {
		ts := nostr.Timestamp(until)
		filter.Until = &ts
	}
	return filter
}

func normalizeHashtag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}
