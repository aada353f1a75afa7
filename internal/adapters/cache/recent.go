// Package cache remembers digests this process already persisted.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bft-labs/digestship/internal/ports"
)

// DefaultRecentSize is the default number of digests remembered.
const DefaultRecentSize = 100000

// RecentSet implements ports.RecentSet with a 2Q cache, so a burst of
// one-off digests does not evict the frequently replayed ones.
type RecentSet struct {
	cache *lru.TwoQueueCache[string, struct{}]
}

// NewRecentSet creates a set holding up to size digests.
// It returns nil when size is not positive.
func NewRecentSet(size int) (*RecentSet, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New2Q[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &RecentSet{cache: c}, nil
}

// Contains reports whether digest was recently persisted.
func (r *RecentSet) Contains(digest string) bool {
	return r.cache.Contains(digest)
}

// Add records digests as persisted.
func (r *RecentSet) Add(digests ...string) {
	for _, d := range digests {
		r.cache.Add(d, struct{}{})
	}
}

// Len returns the number of remembered digests.
func (r *RecentSet) Len() int {
	return r.cache.Len()
}

var _ ports.RecentSet = (*RecentSet)(nil)
