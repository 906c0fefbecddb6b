package lastfm

import (
	"encoding/json"
	"time"
)

// Scrobble is one listen event. A zero At with NowPlaying set means the
// track is still in progress and must be excluded from aggregation.
type Scrobble struct {
	Artist     string
	Title      string
	At         time.Time
	NowPlaying bool
}

// UserInfo is a listener's Last.fm profile.
type UserInfo struct {
	Name        string
	RealName    string
	JoinedAt    time.Time
	TotalTracks int
}

// Tag represents a Last.fm tag.
type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// trackList tolerates the API quirk of returning a bare object instead of
// an array when a page holds a single track.
type trackList []recentTrack

func (l *trackList) UnmarshalJSON(data []byte) error {
	var many []recentTrack
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one recentTrack
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = trackList{one}
	return nil
}

// recentTrack is one entry of user.getrecenttracks.
type recentTrack struct {
	Artist struct {
		Text string `json:"#text"`
	} `json:"artist"`
	Name string `json:"name"`
	Date struct {
		UTS string `json:"uts"`
	} `json:"date"`
	Attr struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

func (t recentTrack) nowPlaying() bool {
	return t.Attr.NowPlaying == "true"
}

// recentTracksResponse is the JSON response for user.getrecenttracks.
type recentTracksResponse struct {
	RecentTracks struct {
		Track trackList `json:"track"`
		Attr  struct {
			Page       string `json:"page"`
			TotalPages string `json:"totalPages"`
			Total      string `json:"total"`
		} `json:"@attr"`
	} `json:"recenttracks"`
}

// userInfoResponse is the JSON response for user.getinfo.
type userInfoResponse struct {
	User *struct {
		Name       string `json:"name"`
		RealName   string `json:"realname"`
		PlayCount  string `json:"playcount"`
		Registered struct {
			UnixTime string `json:"unixtime"`
		} `json:"registered"`
	} `json:"user"`
}

// artistTagsResponse is the JSON response for artist.getTopTags.
type artistTagsResponse struct {
	TopTags struct {
		Tag []Tag `json:"tag"`
	} `json:"toptags"`
}

// apiError represents a Last.fm API error response.
type apiError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}
