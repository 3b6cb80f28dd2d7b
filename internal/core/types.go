package core

import (
	"context"
	"strings"
)

// Item is a playable track as the session sees it. Values are never mutated once received.
type Item struct {
	ID          string   `json:"id"`
	URI         string   `json:"uri"`
	Title       string   `json:"title"`
	ArtistNames []string `json:"artist_names"`
	ArtworkURL  string   `json:"artwork_url"`
}

// Artists joins the artist names the way the player card displays them.
func (i Item) Artists() string {
	return strings.Join(i.ArtistNames, ", ")
}

// Key identifies the item for deduplication, preferring the provider ID.
func (i Item) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.URI
}

// Capability records whether the account may use remote playback.
type Capability struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type Readiness int

const (
	// NotReady means the device has not reported ready, or went offline
	NotReady Readiness = iota
	// Ready means the device reported ready and accepts commands
	Ready
)

// String returns the string representation of the readiness.
func (r Readiness) String() string {
	switch r {
	case NotReady:
		return "not-ready"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots carry readiness as a readable string.
func (r Readiness) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// DeviceHandle references the connected playback device.
type DeviceHandle struct {
	ID string `json:"id"`
}

// PlaybackState is the device-reported playback state.
type PlaybackState struct {
	Paused     bool  `json:"paused"`
	PositionMs int   `json:"position_ms"`
	DurationMs int   `json:"duration_ms"`
	Current    *Item `json:"current,omitempty"`
}

// EmptyPlaybackState is the state of a session with nothing loaded.
func EmptyPlaybackState() PlaybackState {
	return PlaybackState{Paused: true}
}

// ProgressPercent returns playback progress as a percentage (0-100).
func (s PlaybackState) ProgressPercent() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	return float64(s.PositionMs) / float64(s.DurationMs) * 100
}

// Queue is an ordered track list with a current position. Index -1 means no selection.
type Queue struct {
	Items []Item `json:"items"`
	Index int    `json:"index"`
}

// ErrorSink receives errors surfaced to the user.
type ErrorSink interface {
	Report(err *Error)
	Clear()
}

// MetricsRecorder receives session telemetry.
type MetricsRecorder interface {
	RecordCommand(command, status string)
	RecordDeviceEvent(event string)
	RecordError(kind string)
	RecordPlayRetry()
	SetDeviceReady(ready bool)
	RecordRecommendationPoll(status string)
}

// SessionBackend is the backend's session and login surface.
type SessionBackend interface {
	Session(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	LoginURL(returnTo string) string
}

// PlaybackBackend proxies playback-control commands to the provider.
type PlaybackBackend interface {
	Play(ctx context.Context, deviceID, trackURI string) error
}

// RecommendationSource returns the raw latest recommendation payload.
type RecommendationSource interface {
	Recommendations(ctx context.Context) ([]byte, error)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordCommand(_, _ string) {}
func (NopRecorder) RecordDeviceEvent(_ string) {}
func (NopRecorder) RecordError(_ string) {}
func (NopRecorder) RecordPlayRetry() {}
func (NopRecorder) SetDeviceReady(_ bool) {}
func (NopRecorder) RecordRecommendationPoll(_ string) {}
