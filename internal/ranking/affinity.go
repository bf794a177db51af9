// Package ranking scores notes by engagement, freshness and the user's own
// interaction history, and records that history.
package ranking

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sandwichfarm/laostr/internal/config"
	"github.com/sandwichfarm/laostr/internal/ops"
	"github.com/sandwichfarm/laostr/internal/storage"
)

// Snapshot is a read-only copy of the affinity maps
type Snapshot struct {
	Authors map[string]float64
	Topics  map[string]float64
}

// Affinity holds how much the user engages with each author and topic.
// Scores only grow; with a cap configured the lowest entries are evicted
// once the cap is exceeded.
type Affinity struct {
	mu      sync.RWMutex
	authors map[string]float64
	topics  map[string]float64

	kv         storage.KV
	maxAuthors int
	maxTopics  int
	logger     *ops.Logger
}

// NewAffinity creates empty affinity maps persisted to kv. kv may be nil to
// keep them in memory only.
func NewAffinity(kv storage.KV, cfg *config.Ranking, logger *ops.Logger) *Affinity {
	if logger == nil {
		logger = ops.Discard()
	}
	a := &Affinity{
		authors: make(map[string]float64),
		topics:  make(map[string]float64),
		kv:      kv,
		logger:  logger.WithComponent("affinity"),
	}
	if cfg != nil {
		a.maxAuthors = cfg.MaxTrackedAuthors
		a.maxTopics = cfg.MaxTrackedTopics
	}
	return a
}

// Load replaces the in-memory maps with the persisted ones
func (a *Affinity) Load(ctx context.Context) error {
	if a.kv == nil {
		return nil
	}

	authors := make(map[string]float64)
	if _, err := storage.GetJSON(ctx, a.kv, storage.KeyUserInteractions, &authors); err != nil {
		return fmt.Errorf("failed to load author affinity: %w", err)
	}
	topics := make(map[string]float64)
	if _, err := storage.GetJSON(ctx, a.kv, storage.KeyUserInterests, &topics); err != nil {
		return fmt.Errorf("failed to load topic affinity: %w", err)
	}

	// a stored null decodes to a nil map
	if authors == nil {
		authors = make(map[string]float64)
	}
	if topics == nil {
		topics = make(map[string]float64)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.authors = authors
	a.topics = topics
	return nil
}

// Add credits weight to author and to every topic, then persists both maps.
// Persist failures are logged; the in-memory update stands.
func (a *Affinity) Add(ctx context.Context, author string, topics []string, weight float64) {
	if weight <= 0 {
		return
	}

	a.mu.Lock()
	if author != "" {
		a.authors[author] += weight
		evict(a.authors, a.maxAuthors, map[string]bool{author: true})
	}
	credited := make(map[string]bool, len(topics))
	for _, topic := range topics {
		a.topics[topic] += weight
		credited[topic] = true
	}
	evict(a.topics, a.maxTopics, credited)
	authors := maps.Clone(a.authors)
	topicsCopy := maps.Clone(a.topics)
	a.mu.Unlock()

	a.persist(ctx, authors, topicsCopy)
}

func (a *Affinity) persist(ctx context.Context, authors, topics map[string]float64) {
	if a.kv == nil {
		return
	}
	if err := storage.SetJSON(ctx, a.kv, storage.KeyUserInteractions, authors); err != nil {
		a.logger.Warn("failed to persist author affinity", "error", err)
	}
	if err := storage.SetJSON(ctx, a.kv, storage.KeyUserInterests, topics); err != nil {
		a.logger.Warn("failed to persist topic affinity", "error", err)
	}
}

// evict drops the lowest scored entries beyond max, never one in keep. When
// keep alone exceeds max the map stays over the cap until a later call.
func evict(m map[string]float64, max int, keep map[string]bool) {
	for max > 0 && len(m) > max {
		victim := ""
		for k, v := range m {
			if keep[k] {
				continue
			}
			if victim == "" || v < m[victim] || (v == m[victim] && k < victim) {
				victim = k
			}
		}
		if victim == "" {
			return
		}
		delete(m, victim)
	}
}

// Author returns the affinity of author
func (a *Affinity) Author(pubkey string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authors[pubkey]
}

// Topic returns the affinity of topic
func (a *Affinity) Topic(topic string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.topics[topic]
}

// Snapshot copies both maps for scoring
func (a *Affinity) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Authors: maps.Clone(a.authors),
		Topics:  maps.Clone(a.topics),
	}
}

// TopTopics returns up to n topics with positive affinity, highest first.
// n <= 0 returns all of them.
func (a *Affinity) TopTopics(n int) []string {
	a.mu.RLock()
	topics := make([]string, 0, len(a.topics))
	for topic, score := range a.topics {
		if score > 0 {
			topics = append(topics, topic)
		}
	}
	scores := maps.Clone(a.topics)
	a.mu.RUnlock()

	slices.SortFunc(topics, func(x, y string) int {
		if c := cmp.Compare(scores[y], scores[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})
	if n > 0 && len(topics) > n {
		topics = topics[:n]
	}
	return topics
}
