package device

import (
	"context"
	"errors"
	"sync"

	"tunechat/internal/core"
)

// EventType names the events a playback SDK emits.
type EventType string

const (
	EventReady               EventType = "ready"
	EventNotReady            EventType = "not_ready"
	EventPlayerStateChanged  EventType = "player_state_changed"
	EventAutoplayFailed      EventType = "autoplay_failed"
	EventInitializationError EventType = "initialization_error"
	EventAuthenticationError EventType = "authentication_error"
	EventAccountError        EventType = "account_error"
	EventPlaybackError       EventType = "playback_error"
)

// Event is a single SDK notification. State is only set for player_state_changed and may be
// nil, which means the SDK has no state to report.
type Event struct {
	Type     EventType
	DeviceID string
	State    *core.PlaybackState
	Message  string
}

// ErrReported marks a Connect failure the player already reported through an event.
var ErrReported = errors.New("failure reported through a device event")

// TokenFunc yields the credential a player authenticates with.
type TokenFunc func() string

// PlayerOptions configures a player constructed by an SDK.
type PlayerOptions struct {
	Name    string
	Volume  float64
	Token   TokenFunc
	OnEvent func(Event)
}

// Player is a connected playback device.
type Player interface {
	Connect(ctx context.Context) error
	Disconnect()
	TogglePlay(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, fraction float64) error
	CurrentState(ctx context.Context) (*core.PlaybackState, error)
}

// SDK constructs players.
type SDK interface {
	NewPlayer(opts PlayerOptions) (Player, error)
}

// LoadFunc loads the SDK, e.g. by probing the daemon that backs it.
type LoadFunc func(ctx context.Context) (SDK, error)

// OnceLoader loads the SDK at most once per process. Failed loads are not cached.
type OnceLoader struct {
	load  LoadFunc
	mutex sync.Mutex
	sdk   SDK
}

// NewOnceLoader wraps load.
func NewOnceLoader(load LoadFunc) *OnceLoader {
	return &OnceLoader{load: load}
}

// Load returns the loaded SDK, loading it on first use.
func (l *OnceLoader) Load(ctx context.Context) (SDK, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.sdk != nil {
		return l.sdk, nil
	}

	sdk, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if sdk == nil {
		return nil, errors.New("sdk loader returned nothing")
	}

	l.sdk = sdk
	return sdk, nil
}

// Loaded reports whether the SDK has been loaded.
func (l *OnceLoader) Loaded() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.sdk != nil
}
