package model

// Catalog is the persisted per-user library document.
type Catalog struct {
	Tracks     map[string]Track `json:"tracks"`
	Version    int64            `json:"version"`
	ClearedFor int64            `json:"cleared_for"`
}

// NewCatalog returns an empty catalog at the given version.
func NewCatalog(version int64) *Catalog {
	return &Catalog{Tracks: make(map[string]Track), Version: version}
}

// Clone returns a deep enough copy for copy-on-write updates.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		Tracks:     make(map[string]Track, len(c.Tracks)),
		Version:    c.Version,
		ClearedFor: c.ClearedFor,
	}
	for id, t := range c.Tracks {
		out.Tracks[id] = t
	}
	return out
}

// Sorted returns the tracks in listing order.
func (c *Catalog) Sorted() []Track {
	tracks := make([]Track, 0, len(c.Tracks))
	for _, t := range c.Tracks {
		tracks = append(tracks, t)
	}
	SortTracks(tracks)
	return tracks
}

// LibrarySnapshot is a read-only view of a catalog.
type LibrarySnapshot struct {
	Version int64   `json:"version"`
	Tracks  []Track `json:"tracks"`
}

// UpsertResult reports the outcome of one scan batch.
type UpsertResult struct {
	Count   int     `json:"count"`
	Version int64   `json:"version"`
	Cleared bool    `json:"-"`
	Preview []Track `json:"preview"`
}
