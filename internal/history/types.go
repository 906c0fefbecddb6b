package history

import "time"

// Profile is a listener's canonical identity, persisted on first lookup.
type Profile struct {
	Username    string    `json:"username"`
	RealName    string    `json:"real_name,omitempty"`
	JoinedAt    time.Time `json:"join_date"`
	TotalTracks int       `json:"total_tracks"`
}

// TrackPlay is one completed listen, timestamped in the listener's local time.
type TrackPlay struct {
	Title  string    `json:"track_name"`
	Artist string    `json:"artist"`
	At     time.Time `json:"date"`
}

// ArtistGroup summarizes one artist's plays within a single anniversary day.
type ArtistGroup struct {
	Artist    string      `json:"artist"`
	Playcount int         `json:"playcount"`
	Tracks    []TrackPlay `json:"tracks"`
	// Tag is the genre tag of the day's top artist; empty elsewhere.
	Tag string `json:"tag,omitempty"`
}

// YearGroup is the summarized activity for one anniversary day, artists
// ordered by playcount descending.
type YearGroup struct {
	// Day is the anniversary date as a local wall-clock midnight.
	Day       time.Time     `json:"day"`
	Artists   []ArtistGroup `json:"artists"`
	Scrobbles []TrackPlay   `json:"scrobbles"`
}

// TopArtist returns the day's most-played artist group.
func (g YearGroup) TopArtist() *ArtistGroup {
	if len(g.Artists) == 0 {
		return nil
	}
	return &g.Artists[0]
}

// Stats is the result of one aggregation call.
type Stats struct {
	// Years is ordered most recent anniversary first.
	Years []YearGroup
	// CachedAt is when the underlying data was fetched, localized to the
	// requested timezone offset.
	CachedAt time.Time
	// FailedDays counts anniversary fetches that failed and were omitted;
	// when nonzero the history may be incomplete.
	FailedDays int
}

// cachedDay is the raw per-day payload persisted to the document store.
type cachedDay struct {
	Day    time.Time        `json:"day"`
	Tracks []cachedScrobble `json:"tracks"`
}

// cachedScrobble mirrors lastfm.Scrobble in storage form. A zero UTS marks a
// currently-playing entry, which never participates in aggregation.
type cachedScrobble struct {
	Artist string `json:"artist"`
	Title  string `json:"track_name"`
	UTS    int64  `json:"uts,omitempty"`
}
