// Package store remembers auto-played recommendations and persists the backend session cookies.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFalsePositiveRate is the Bloom filter error rate of a PlayedSet
const DefaultFalsePositiveRate = 0.001

// PlayedSet remembers the keys of recently auto-played tracks. A Bloom filter answers most
// misses; the LRU bounds memory and evicts the oldest keys first.
type PlayedSet struct {
	mutex             sync.RWMutex
	keys              map[string]struct{}
	filter            *bloom.BloomFilter
	recent            *lru.Cache[string, struct{}]
	capacity          int
	falsePositiveRate float64
}

// NewPlayedSet creates a set holding at most capacity keys.
func NewPlayedSet(capacity int, falsePositiveRate float64) *PlayedSet {
	if capacity <= 0 {
		capacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultFalsePositiveRate
	}

	p := &PlayedSet{
		keys:              make(map[string]struct{}),
		filter:            bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
	// Evictions run inside Add while the set's lock is held.
	p.recent, _ = lru.NewWithEvict[string, struct{}](capacity, func(key string, _ struct{}) {
		delete(p.keys, key)
	})
	return p
}

// Contains reports whether key was played and not yet evicted.
func (p *PlayedSet) Contains(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if !p.filter.TestString(key) {
		return false
	}
	_, ok := p.keys[key]
	return ok
}

// Remember adds key and reports whether it was new.
func (p *PlayedSet) Remember(key string) bool {
	if key == "" {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.keys[key]; ok {
		p.recent.Get(key)
		return false
	}
	p.addLocked(key)
	return true
}

// Load replaces the contents with keys, oldest first.
func (p *PlayedSet) Load(keys []string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.resetLocked()
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := p.keys[key]; ok {
			continue
		}
		p.addLocked(key)
	}
}

// Keys returns the remembered keys, oldest first.
func (p *PlayedSet) Keys() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.recent.Keys()
}

// Len returns the number of remembered keys.
func (p *PlayedSet) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.keys)
}

// Reset forgets everything.
func (p *PlayedSet) Reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.resetLocked()
}

func (p *PlayedSet) addLocked(key string) {
	p.keys[key] = struct{}{}
	p.filter.AddString(key)
	p.recent.Add(key, struct{}{})
}

// resetLocked rebuilds the filter; Bloom filters cannot drop single keys.
func (p *PlayedSet) resetLocked() {
	p.recent.Purge()
	p.keys = make(map[string]struct{})
	p.filter = bloom.NewWithEstimates(uint(p.capacity), p.falsePositiveRate)
}
