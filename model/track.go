package model

import "sort"

// Placeholders used for missing tag values.
const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Track is one audio file of a user's library as reported by the agent.
// TrackID is assigned by the scanner and never changes for an unmodified file.
type Track struct {
	TrackID     string   `json:"track_id"`
	Title       string   `json:"title,omitempty"`
	Artist      string   `json:"artist,omitempty"`
	Album       string   `json:"album,omitempty"`
	Path        string   `json:"path,omitempty"`     // absolute path on the agent, informational
	RelPath     string   `json:"rel_path,omitempty"` // percent-encoded path under the agent root
	FileSize    *int64   `json:"file_size,omitempty"`
	MTime       *int64   `json:"mtime,omitempty"`
	DurationSec *float64 `json:"duration_sec,omitempty"`
}

// ApplyPlaceholders fills empty tag fields.
func (t *Track) ApplyPlaceholders() {
	if t.Title == "" {
		t.Title = UnknownTitle
	}
	if t.Artist == "" {
		t.Artist = UnknownArtist
	}
	if t.Album == "" {
		t.Album = UnknownAlbum
	}
}

// SortTracks orders tracks by artist, album, title and finally track id.
func SortTracks(tracks []Track) {
	sort.Slice(tracks, func(i, j int) bool {
		a, b := tracks[i], tracks[j]
		if a.Artist != b.Artist {
			return a.Artist < b.Artist
		}
		if a.Album != b.Album {
			return a.Album < b.Album
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.TrackID < b.TrackID
	})
}
