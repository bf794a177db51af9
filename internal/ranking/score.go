package ranking

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/content"
)

const (
	maxAuthorBoost    = 2.0
	authorBoostScale  = 5.0
	topicBoostPerUnit = 0.2
	lengthBoost       = 1.1
	lengthBoostMin    = 50
	lengthBoostMax    = 1000
)

// Scorer computes relevance scores. It is a pure function of the event, an
// affinity snapshot and the clock.
type Scorer struct {
	likeWeight     float64
	repostWeight   float64
	replyWeight    float64
	freshnessHours float64
	freshnessFloor float64
	now            func() time.Time
}

// NewScorer creates a scorer from config. A nil config uses the defaults.
func NewScorer(cfg *config.Ranking) *Scorer {
	if cfg == nil {
		defaults := config.Default().Ranking
		cfg = &defaults
	}
	return &Scorer{
		likeWeight:     cfg.LikeWeight,
		repostWeight:   cfg.RepostWeight,
		replyWeight:    cfg.ReplyWeight,
		freshnessHours: cfg.FreshnessHours,
		freshnessFloor: cfg.FreshnessFloor,
		now:            time.Now,
	}
}

// WithClock returns a copy of the scorer reading time from now
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	c := *s
	c.now = now
	return &c
}

// Engagement is the weighted count of like, repost and reply tags
func (s *Scorer) Engagement(event *nostr.Event) float64 {
	var likes, reposts, replies float64
	for _, tag := range event.Tags {
		if len(tag) == 0 {
			continue
		}
		switch tag[0] {
		case "like":
			likes++
		case "repost":
			reposts++
		case "reply":
			replies++
		}
	}
	return likes*s.likeWeight + reposts*s.repostWeight + replies*s.replyWeight
}

// Freshness decays linearly from 1 to the floor over the freshness window.
// Notes dated in the future count as brand new.
func (s *Scorer) Freshness(event *nostr.Event) float64 {
	ageHours := s.now().Sub(event.CreatedAt.Time()).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Max(s.freshnessFloor, 1-ageHours/s.freshnessHours)
}

// Score multiplies engagement by freshness, author affinity, topic affinity
// and a length bonus. Zero engagement always scores zero.
func (s *Scorer) Score(event *nostr.Event, snap Snapshot) float64 {
	score := s.Engagement(event) * s.Freshness(event)

	score *= 1 + math.Min(maxAuthorBoost, snap.Authors[event.PubKey]/authorBoostScale)

	var interest float64
	for _, tag := range content.ExtractHashtags(event.Content) {
		interest += snap.Topics[tag]
	}
	score *= 1 + topicBoostPerUnit*interest

	if n := content.Length(event.Content); n > lengthBoostMin && n < lengthBoostMax {
		score *= lengthBoost
	}

	return score
}

// Rank returns events ordered by score, highest first. Ties go to the newer
// note, then to the lower id.
func (s *Scorer) Rank(events []*nostr.Event, snap Snapshot) []*nostr.Event {
	scores := make(map[*nostr.Event]float64, len(events))
	for _, event := range events {
		scores[event] = s.Score(event, snap)
	}

	ranked := slices.Clone(events)
	slices.SortFunc(ranked, func(a, b *nostr.Event) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranked
}
