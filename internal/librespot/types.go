package librespot

import (
	"encoding/json"
	"strings"

	"tunechat/internal/core"
)

// Status is the playback status returned by GET /status.
type Status struct {
	Username       string `json:"username"`
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	Stopped        bool   `json:"stopped"`
	Paused         bool   `json:"paused"`
	Buffering      bool   `json:"buffering"`
	Volume         int    `json:"volume"`
	VolumeSteps    int    `json:"volume_steps"`
	RepeatContext  bool   `json:"repeat_context"`
	RepeatTrack    bool   `json:"repeat_track"`
	ShuffleContext bool   `json:"shuffle_context"`
	Track          *Track `json:"track"`
}

// Track is a track as the daemon reports it.
type Track struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	AlbumName   string   `json:"album_name"`
	AlbumCover  string   `json:"album_cover_url"`
	Position    int      `json:"position"` // ms
	Duration    int      `json:"duration"` // ms
}

// Event is a message on the /events WebSocket.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventMetadata is the payload of "metadata" events.
type EventMetadata struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	AlbumName   string   `json:"album_name"`
	AlbumCover  string   `json:"album_cover_url"`
	Duration    int      `json:"duration"` // ms
	Position    int      `json:"position"` // ms
}

// EventSeek is the payload of "seek" events.
type EventSeek struct {
	Position int `json:"position"` // ms
	Duration int `json:"duration"` // ms
}

const (
	eventMetadata   = "metadata"
	eventPlaying    = "playing"
	eventPaused     = "paused"
	eventNotPlaying = "not_playing"
	eventStopped    = "stopped"
	eventSeek       = "seek"
	eventActive     = "active"
	eventInactive   = "inactive"

	trackURIPrefix = "spotify:track:"
)

func itemFromTrack(uri, name string, artists []string, cover string) *core.Item {
	if uri == "" {
		return nil
	}
	return &core.Item{
		ID:          strings.TrimPrefix(uri, trackURIPrefix),
		URI:         uri,
		Title:       name,
		ArtistNames: append([]string(nil), artists...),
		ArtworkURL:  cover,
	}
}

// playbackState converts a status into the device-reported playback state.
func (s *Status) playbackState() core.PlaybackState {
	state := core.PlaybackState{Paused: s.Paused || s.Stopped}
	if s.Track != nil {
		state.PositionMs = s.Track.Position
		state.DurationMs = s.Track.Duration
		state.Current = itemFromTrack(s.Track.URI, s.Track.Name, s.Track.ArtistNames, s.Track.AlbumCover)
	}
	return state
}
