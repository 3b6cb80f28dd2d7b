// Package recommend polls the recommendation backend and turns its loosely shaped payloads into
// playable items.
package recommend

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"

	"tunechat/internal/core"
	"tunechat/pkg/trackref"
)

// ErrInvalidPayload is returned for payloads that are not JSON.
var ErrInvalidPayload = errors.New("recommendation payload is not valid JSON")

// Source fields in priority order. The first field holding a usable value wins.
var (
	listFields    = []string{"tracks", "items", "songs", "recommendations", "results", "data"}
	uriFields     = []string{"uri", "track_uri", "external_urls.spotify", "spotify_url", "url"}
	idFields      = []string{"id", "track_id"}
	titleFields   = []string{"name", "title"}
	artistFields  = []string{"artists", "artist", "artists_names", "artistsName"}
	artworkFields = []string{"album_image", "album.image", "image", "album_image_url", "cover", "album.images.0.url"}
)

// Normalize extracts the playable items of a recommendation payload. The payload may be a bare
// array, an object keyed by one of the list fields, or either wrapped as {"ok": true, "data": ...}.
// Share links are canonicalized. Entries without a track reference are dropped.
func Normalize(payload []byte) ([]core.Item, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidPayload
	}

	root := gjson.ParseBytes(payload)
	if root.Get("ok").Bool() && root.Get("data").Exists() {
		root = root.Get("data")
	}

	var items []core.Item
	for _, entry := range trackList(root) {
		if item, ok := itemFrom(entry); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func trackList(root gjson.Result) []gjson.Result {
	if root.IsArray() {
		return root.Array()
	}
	if !root.IsObject() {
		return nil
	}
	for _, field := range listFields {
		if list := root.Get(field); list.IsArray() {
			return list.Array()
		}
	}
	return nil
}

func itemFrom(entry gjson.Result) (core.Item, bool) {
	if !entry.IsObject() {
		return core.Item{}, false
	}

	uri := trackURI(entry)
	if uri == "" {
		return core.Item{}, false
	}

	id := firstString(entry, idFields)
	if id == "" {
		id = trackref.ID(uri)
	}

	return core.Item{
		ID:          id,
		URI:         uri,
		Title:       clean(firstString(entry, titleFields)),
		ArtistNames: artistNames(entry),
		ArtworkURL:  firstString(entry, artworkFields),
	}, true
}

func trackURI(entry gjson.Result) string {
	for _, path := range uriFields {
		if uri, err := trackref.Parse(entry.Get(path).String()); err == nil {
			return uri
		}
	}
	return ""
}

func firstString(entry gjson.Result, paths []string) string {
	for _, path := range paths {
		value := entry.Get(path)
		switch value.Type {
		case gjson.String, gjson.Number:
			if s := strings.TrimSpace(value.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func artistNames(entry gjson.Result) []string {
	for _, field := range artistFields {
		value := entry.Get(field)
		if !value.Exists() {
			continue
		}
		if names := namesOf(value); len(names) > 0 {
			return names
		}
	}
	return nil
}

func namesOf(value gjson.Result) []string {
	switch {
	case value.Type == gjson.String:
		if name := clean(value.Str); name != "" {
			return []string{name}
		}
	case value.IsArray():
		var names []string
		for _, artist := range value.Array() {
			names = append(names, namesOf(artist)...)
		}
		return names
	case value.IsObject():
		if name := clean(firstString(value, []string{"name", "artist"})); name != "" {
			return []string{name}
		}
	}
	return nil
}

// clean trims and NFC-normalizes display text so composed and decomposed Hangul compare equal.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
