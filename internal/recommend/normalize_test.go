package recommend

import (
	"errors"
	"testing"
)

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected []string
	}{
		{
			name:     "bare array",
			payload:  `[{"uri":"spotify:track:a"},{"uri":"spotify:track:b"}]`,
			expected: []string{"spotify:track:a", "spotify:track:b"},
		},
		{
			name:     "tracks key",
			payload:  `{"tracks":[{"uri":"spotify:track:a"}]}`,
			expected: []string{"spotify:track:a"},
		},
		{
			name:     "priority order prefers tracks over data",
			payload:  `{"data":[{"uri":"spotify:track:d"}],"tracks":[{"uri":"spotify:track:t"}]}`,
			expected: []string{"spotify:track:t"},
		},
		{
			name:     "non-array field is skipped",
			payload:  `{"tracks":"none","songs":[{"track_uri":"spotify:track:s"}]}`,
			expected: []string{"spotify:track:s"},
		},
		{
			name:     "ok wrapper around array",
			payload:  `{"ok":true,"data":[{"uri":"spotify:track:w"}]}`,
			expected: []string{"spotify:track:w"},
		},
		{
			name:     "ok wrapper around keyed object",
			payload:  `{"ok":true,"data":{"recommendations":[{"uri":"spotify:track:r"}]}}`,
			expected: []string{"spotify:track:r"},
		},
		{
			name:     "entries without uri are dropped",
			payload:  `{"items":[{"name":"no uri"},{"uri":"spotify:track:x"},42]}`,
			expected: []string{"spotify:track:x"},
		},
		{
			name:     "unknown shape",
			payload:  `{"message":"nothing yet"}`,
			expected: nil,
		},
		{
			name:     "empty body",
			payload:  ``,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Normalize([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if len(items) != len(tt.expected) {
				t.Fatalf("Normalize() = %+v, expected %v", items, tt.expected)
			}
			for i, uri := range tt.expected {
				if items[i].URI != uri {
					t.Errorf("item %d uri = %s, expected %s", i, items[i].URI, uri)
				}
			}
		})
	}
}

func TestNormalize_FieldFallbacks(t *testing.T) {
	payload := `[
		{"uri":"spotify:track:1","name":"Name","artists":[{"name":"A"},"B",{"artist":"C"}],"album":{"images":[{"url":"https://img/1"}]}},
		{"track_uri":"spotify:track:2","title":"Title","artist":"Solo","album_image":"https://img/2","id":7},
		{"uri":"spotify:track:3","artists_names":{"name":"Obj"},"cover":"https://img/3"}
	]`

	items, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Normalize() returned %d items", len(items))
	}

	first := items[0]
	if first.ID != "1" || first.Title != "Name" || first.Artists() != "A, B, C" || first.ArtworkURL != "https://img/1" {
		t.Errorf("first = %+v", first)
	}

	second := items[1]
	if second.ID != "7" || second.Title != "Title" || second.Artists() != "Solo" || second.ArtworkURL != "https://img/2" {
		t.Errorf("second = %+v", second)
	}

	third := items[2]
	if third.Artists() != "Obj" || third.ArtworkURL != "https://img/3" {
		t.Errorf("third = %+v", third)
	}
}

func TestNormalize_ComposesUnicode(t *testing.T) {
	// "한" as decomposed jamo
	payload := "[{\"uri\":\"spotify:track:k\",\"name\":\"한\"}]"

	items, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if items[0].Title != "한" {
		t.Errorf("title = %q, expected the composed syllable", items[0].Title)
	}
}

func TestNormalize_InvalidJSON(t *testing.T) {
	if _, err := Normalize([]byte(`{"tracks":[`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Normalize() error = %v, expected ErrInvalidPayload", err)
	}
}

func TestNormalize_CanonicalizesShareLinks(t *testing.T) {
	payload := `[
		{"external_urls":{"spotify":"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=x"},"name":"Linked"},
		{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ","name":"Elsewhere"},
		{"uri":"spotify:episode:abc","url":"https://open.spotify.com/intl-ko/track/1301WleyT98MSxVHPZCA6M"}
	]`

	items, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, expected the non-Spotify entry dropped", items)
	}
	if items[0].URI != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" || items[0].ID != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("first = %+v", items[0])
	}
	if items[1].URI != "spotify:track:1301WleyT98MSxVHPZCA6M" {
		t.Errorf("second uri = %s, expected the track link over the episode uri", items[1].URI)
	}
}
