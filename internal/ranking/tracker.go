package ranking

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/content"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// Action is a user interaction with a note
type Action string

const (
	ActionView   Action = "view"
	ActionLike   Action = "like"
	ActionReply  Action = "reply"
	ActionRepost Action = "repost"
)

var baseWeights = map[Action]float64{
	ActionView:   0.1,
	ActionLike:   1,
	ActionReply:  2,
	ActionRepost: 1.5,
}

var mediaMultipliers = map[content.Type]float64{
	content.TypeText:  1,
	content.TypeImage: 1.2,
	content.TypeVideo: 1.5,
}

// Weight returns the affinity credit for action on event. ok is false for
// unknown actions.
func Weight(event *nostr.Event, action Action) (weight float64, ok bool) {
	base, ok := baseWeights[action]
	if !ok {
		return 0, false
	}
	return base * mediaMultipliers[content.DetectType(event.Content)], true
}

// NoteLookup finds a note the user is looking at
type NoteLookup interface {
	Get(id string) (*nostr.Event, bool)
}

// Tracker turns interactions into author and topic affinity
type Tracker struct {
	affinity *Affinity
	notes    NoteLookup
	logger   *ops.Logger
}

// NewTracker creates a tracker. notes may be nil if View is not used.
func NewTracker(affinity *Affinity, notes NoteLookup, logger *ops.Logger) *Tracker {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Tracker{
		affinity: affinity,
		notes:    notes,
		logger:   logger.WithComponent("tracker"),
	}
}

// Record credits the note's author and hashtags for action. Events without
// an author and unknown actions are logged and ignored.
func (t *Tracker) Record(ctx context.Context, event *nostr.Event, action Action) {
	if event == nil || event.PubKey == "" {
		t.logger.Warn("ignoring interaction without author", "action", action)
		return
	}

	weight, ok := Weight(event, action)
	if !ok {
		t.logger.Warn("ignoring unknown interaction", "action", action, "event_id", event.ID)
		return
	}

	topics := content.ExtractHashtags(event.Content)
	t.affinity.Add(ctx, event.PubKey, topics, weight)
	t.logger.Debug("interaction recorded",
		"action", action,
		"event_id", event.ID,
		"weight", weight,
		"topics", len(topics))
}

// View records a view of a note in the feed and reports whether it was found
func (t *Tracker) View(ctx context.Context, id string) bool {
	if t.notes == nil {
		return false
	}
	event, ok := t.notes.Get(id)
	if !ok {
		return false
	}
	t.Record(ctx, event, ActionView)
	return true
}
