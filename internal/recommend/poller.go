package recommend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tunechat/internal/core"
	"tunechat/internal/store"
	"tunechat/pkg/trackref"
)

const (
	pollOK      = "ok"
	pollError   = "error"
	pollInvalid = "invalid"
)

// Player is the playback surface the poller drives.
type Player interface {
	Authorized() bool
	Play(ctx context.Context, item core.Item, items []core.Item, index int) error
	Announce(key string, args ...interface{})
}

// History persists auto-played keys across restarts.
type History interface {
	SavePlayed(ctx context.Context, key string, at time.Time) error
}

// Poller fetches the latest recommendations on an interval and auto-plays the first track of
// each batch once the session is authorized.
type Poller struct {
	config  core.RecommendConfig
	source  core.RecommendationSource
	player  Player
	played  *store.PlayedSet
	history History
	metrics core.MetricsRecorder
	logger  *zap.Logger

	mutex     sync.RWMutex
	latest    []core.Item
	fetchedAt time.Time
	batchKey  string
}

// NewPoller creates a poller. history may be nil.
func NewPoller(config core.RecommendConfig, source core.RecommendationSource, player Player,
	played *store.PlayedSet, history History, metrics core.MetricsRecorder, logger *zap.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = core.DefaultRecommendInterval
	}
	if metrics == nil {
		metrics = core.NopRecorder{}
	}
	return &Poller{
		config:  config,
		source:  source,
		player:  player,
		played:  played,
		history: history,
		metrics: metrics,
		logger:  logger,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Starting recommendation poller", zap.Duration("interval", p.config.Interval))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			p.logger.Debug("Recommendation poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("Recommendation poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches and applies the latest recommendations once. Fetch failures keep the previous list.
func (p *Poller) Poll(ctx context.Context) error {
	raw, err := p.source.Recommendations(ctx)
	if err != nil {
		p.metrics.RecordRecommendationPoll(pollError)
		p.logger.Warn("Failed to fetch recommendations", zap.Error(err))
		return fmt.Errorf("fetching recommendations: %w", err)
	}

	items, err := Normalize(raw)
	if err != nil {
		p.metrics.RecordRecommendationPoll(pollInvalid)
		p.logger.Warn("Ignoring malformed recommendations", zap.Error(err))
		return err
	}
	p.metrics.RecordRecommendationPoll(pollOK)

	batchKey := ""
	if len(items) > 0 {
		batchKey = items[0].Key()
	}

	p.mutex.Lock()
	p.latest = items
	p.fetchedAt = time.Now()
	isNew := batchKey != "" && batchKey != p.batchKey
	p.batchKey = batchKey
	p.mutex.Unlock()

	if isNew {
		p.logger.Info("New recommendations", zap.Int("count", len(items)), zap.String("first", items[0].Title))
		p.player.Announce("notice.recommendation", len(items))
	}

	// The played set keeps a batch from starting twice.
	if p.config.AutoPlay && len(items) > 0 {
		p.autoPlay(ctx, items)
	}
	return nil
}

func (p *Poller) autoPlay(ctx context.Context, items []core.Item) {
	first := items[0]
	key := first.Key()

	if !p.player.Authorized() {
		p.logger.Debug("Auto-play skipped, session not authorized", zap.String("key", key))
		return
	}
	// A re-release of a played song counts as played.
	songKey := trackref.SongKey(first.Title, first.ArtistNames)
	if p.played.Contains(key) || (songKey != "" && p.played.Contains(songKey)) {
		p.logger.Debug("Auto-play skipped, already played", zap.String("key", key))
		return
	}

	now := time.Now()
	for _, k := range []string{key, songKey} {
		if k == "" {
			continue
		}
		p.played.Remember(k)
		if p.history == nil {
			continue
		}
		if err := p.history.SavePlayed(ctx, k, now); err != nil {
			p.logger.Warn("Failed to persist auto-played track", zap.String("key", k), zap.Error(err))
		}
	}

	p.logger.Info("Auto-playing first recommendation",
		zap.String("title", first.Title),
		zap.String("artists", first.Artists()),
		zap.String("uri", first.URI))
	if err := p.player.Play(ctx, first, items, 0); err != nil {
		p.logger.Warn("Auto-play failed", zap.String("uri", first.URI), zap.Error(err))
	}
}

// Latest returns the most recent list and when it was fetched.
func (p *Poller) Latest() ([]core.Item, time.Time) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]core.Item(nil), p.latest...), p.fetchedAt
}

// PlayAt plays the indexed track of the latest list, queueing the whole list.
func (p *Poller) PlayAt(ctx context.Context, index int) error {
	items, _ := p.Latest()
	if index < 0 || index >= len(items) {
		return fmt.Errorf("recommendation index %d out of range for %d items", index, len(items))
	}
	return p.player.Play(ctx, items[index], items, index)
}
