// Package flood limits how many playback commands a client may issue per minute.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the sliding window commands are counted in
	windowDuration = 60 * time.Second
	// cleanupInterval is how often idle clients are forgotten
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long a client may stay silent before it is forgotten
	idleTimeout = 10 * time.Minute
)

// Floodgate counts commands per client and scope in a sliding one-minute window.
// A limit of zero or less disables limiting.
type Floodgate struct {
	limitPerMinute int
	entries        map[string]*clientEntry // Key: "clientID:scope"
	mutex          sync.Mutex
	now            func() time.Time
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

type clientEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a floodgate and starts its background cleanup.
func New(limitPerMinute int) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*clientEntry),
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
	}
	go fg.cleanup()
	return fg
}

// Stop ends the background cleanup. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow records a command from clientID in scope and reports whether it is within the limit.
// Rejected commands are not counted.
func (fg *Floodgate) Allow(clientID, scope string) bool {
	if fg.limitPerMinute <= 0 {
		return true
	}

	key := clientID + ":" + scope

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	now := fg.now()
	entry, ok := fg.entries[key]
	if !ok {
		entry = &clientEntry{timestamps: make([]time.Time, 0, fg.limitPerMinute+1)}
		fg.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limitPerMinute {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}

// RetryAfter is how long clientID must wait before its next command in scope is allowed.
func (fg *Floodgate) RetryAfter(clientID, scope string) time.Duration {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, ok := fg.entries[clientID+":"+scope]
	if !ok || fg.limitPerMinute <= 0 || len(entry.timestamps) < fg.limitPerMinute {
		return 0
	}
	wait := entry.timestamps[0].Add(windowDuration).Sub(fg.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics for monitoring.
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	return Stats{
		ActiveClients:  len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveClients  int `json:"active_clients"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
