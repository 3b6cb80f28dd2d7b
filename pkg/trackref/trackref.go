// Package trackref parses Spotify track references and derives comparable song keys.
package trackref

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// URIPrefix starts every canonical track URI.
const URIPrefix = "spotify:track:"

// ErrNotTrack is returned for references that do not name a Spotify track.
var ErrNotTrack = errors.New("not a spotify track reference")

var (
	trackIDRegex = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	// bare IDs are only accepted at their canonical base62 length
	bareIDRegex = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)

	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*\b(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*`)
	versionRegex    = regexp.MustCompile(`(?i)\s*[\(\[-]\s*(?:remaster|remastered|deluxe|extended|radio edit|clean|explicit)[^\)\]]*[\)\]]?\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	spotifyDomains = map[string]bool{
		"open.spotify.com": true,
		"play.spotify.com": true,
		"spotify.com":      true,
	}
)

// Parse returns the canonical track URI for a track URI, a share link, or a bare track ID.
// Share-link tracking parameters are ignored.
func Parse(ref string) (string, error) {
	ref = strings.TrimRight(strings.TrimSpace(ref), ".,!?;")
	if ref == "" {
		return "", ErrNotTrack
	}

	if strings.HasPrefix(ref, URIPrefix) {
		id := strings.TrimPrefix(ref, URIPrefix)
		if !trackIDRegex.MatchString(id) {
			return "", ErrNotTrack
		}
		return URIPrefix + id, nil
	}

	if bareIDRegex.MatchString(ref) {
		return URIPrefix + ref, nil
	}

	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return "", ErrNotTrack
	}
	u, err := url.Parse(ref)
	if err != nil || !spotifyDomains[strings.ToLower(u.Hostname())] {
		return "", ErrNotTrack
	}

	// Localized links carry a leading /intl-xx segment.
	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == "track" && i+1 < len(pathParts) && trackIDRegex.MatchString(pathParts[i+1]) {
			return URIPrefix + pathParts[i+1], nil
		}
	}
	return "", ErrNotTrack
}

// ID returns the track ID of a canonical URI, or "" when uri is not one.
func ID(uri string) string {
	if !strings.HasPrefix(uri, URIPrefix) {
		return ""
	}
	return strings.TrimPrefix(uri, URIPrefix)
}

// SongKey identifies a song across releases. Featured artists and remaster or edit suffixes are
// dropped, accents and punctuation are folded, and artists are matched by the first one only.
// It returns "" when title is empty.
func SongKey(title string, artists []string) string {
	t := normalizeTitle(title)
	if t == "" {
		return ""
	}
	artist := ""
	if len(artists) > 0 {
		artist = normalizeArtist(artists[0])
	}
	return "song:" + artist + "|" + t
}

func normalizeArtist(artist string) string {
	artist = basicNormalize(artist)
	return strings.ReplaceAll(artist, " and ", " ")
}

func normalizeTitle(title string) string {
	title = featRegex.ReplaceAllString(title, " ")
	title = versionRegex.ReplaceAllString(title, " ")
	return basicNormalize(title)
}

func basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	text = strings.ToLower(strings.TrimSpace(text))

	// Hangul syllables decompose under NFKD; recompose so the key stays readable.
	return norm.NFC.String(text)
}
