package spotify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
)

type fakeAPI struct {
	searchFn    func(query string) (*spotify.SearchResult, error)
	searchCalls int
	queries     []string

	createErr error
	addErr    error
	addCalls  [][]spotify.ID
}

func (f *fakeAPI) CurrentUser(context.Context) (*spotify.PrivateUser, error) {
	return &spotify.PrivateUser{User: spotify.User{ID: "listener-1"}}, nil
}

func (f *fakeAPI) CreatePlaylistForUser(_ context.Context, _, name, description string, _, _ bool) (*spotify.FullPlaylist, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &spotify.FullPlaylist{
		SimplePlaylist: spotify.SimplePlaylist{
			ID:           "pl-123",
			Name:         name,
			ExternalURLs: map[string]string{"spotify": "https://open.spotify.com/playlist/pl-123"},
			Description:  description,
		},
	}, nil
}

func (f *fakeAPI) AddTracksToPlaylist(_ context.Context, _ spotify.ID, trackIDs ...spotify.ID) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	batch := make([]spotify.ID, len(trackIDs))
	copy(batch, trackIDs)
	f.addCalls = append(f.addCalls, batch)
	return "snapshot", nil
}

func (f *fakeAPI) Search(_ context.Context, query string, _ spotify.SearchType, _ ...spotify.RequestOption) (*spotify.SearchResult, error) {
	f.searchCalls++
	f.queries = append(f.queries, query)
	if f.searchFn == nil {
		return &spotify.SearchResult{}, nil
	}
	return f.searchFn(query)
}

func fullTrack(name, uri string, artists ...string) spotify.FullTrack {
	credits := make([]spotify.SimpleArtist, len(artists))
	for i, a := range artists {
		credits[i] = spotify.SimpleArtist{Name: a}
	}
	return spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			Name:    name,
			URI:     spotify.URI(uri),
			Artists: credits,
		},
	}
}

func trackResult(tracks ...spotify.FullTrack) *spotify.SearchResult {
	return &spotify.SearchResult{Tracks: &spotify.FullTrackPage{Tracks: tracks}}
}

func newTestClient(api *fakeAPI, cache SearchCache) *Client {
	return New(api, cache, Config{Logger: zerolog.Nop()})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Come With Me (Original Mix)", "come with me"},
		{"Come With Me", "come with me"},
		{"Midnight City feat. Susanne Sundfør", "midnight city"},
		{"One More Time (feat. Daft Punk)", "one more time"},
		{"Runnin' ft. Pharrell", "runnin"},
		{"Love & Hate", "love hate"},
		{"2 + 2 = 5", "2 2 = 5"},
		{"S.O.S.", "sos"},
		{"  padded   out  ", "padded out"},
		{"Nude (Album Version)", "nude"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTruncates(t *testing.T) {
	long := ""
	for range 40 {
		long += "ab"
	}
	if got := Normalize(long); len(got) != maxTermLength {
		t.Errorf("len = %d, want %d", len(got), maxTermLength)
	}
}

func TestSearchTrackMatching(t *testing.T) {
	tests := []struct {
		name    string
		artist  string
		title   string
		results []spotify.FullTrack
		want    string
	}{
		{
			name:   "exact artist match",
			artist: "Burial",
			title:  "Archangel",
			results: []spotify.FullTrack{
				fullTrack("Archangel", "spotify:track:aaa", "Burial"),
			},
			want: "spotify:track:aaa",
		},
		{
			name:   "live variant skipped",
			artist: "Radiohead",
			title:  "Nude",
			results: []spotify.FullTrack{
				fullTrack("Nude - Live", "spotify:track:live", "Radiohead"),
				fullTrack("Nude", "spotify:track:studio", "Radiohead"),
			},
			want: "spotify:track:studio",
		},
		{
			name:   "live query accepts live variant",
			artist: "Radiohead",
			title:  "Nude (Live)",
			results: []spotify.FullTrack{
				fullTrack("Nude - Live at the Astoria", "spotify:track:live", "Radiohead"),
			},
			want: "spotify:track:live",
		},
		{
			name:   "and collapses against ampersand credit",
			artist: "Simon and Garfunkel",
			title:  "America",
			results: []spotify.FullTrack{
				fullTrack("America", "spotify:track:sg", "Simon & Garfunkel"),
			},
			want: "spotify:track:sg",
		},
		{
			name:   "lead artist in comma credit",
			artist: "Burial",
			title:  "Temple Sleeper",
			results: []spotify.FullTrack{
				fullTrack("Temple Sleeper", "spotify:track:tmpl", "Burial, Kindred"),
			},
			want: "spotify:track:tmpl",
		},
		{
			name:   "wrong artist gives no match",
			artist: "Burial",
			title:  "Archangel",
			results: []spotify.FullTrack{
				fullTrack("Archangel", "spotify:track:cover", "Some Cover Band"),
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{searchFn: func(string) (*spotify.SearchResult, error) {
				return trackResult(tt.results...), nil
			}}
			c := newTestClient(api, nil)

			got, err := c.SearchTrack(context.Background(), tt.artist, tt.title, "US")
			if err != nil {
				t.Fatalf("SearchTrack() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SearchTrack() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSearchTrackBracketRetry(t *testing.T) {
	api := &fakeAPI{searchFn: func(query string) (*spotify.SearchResult, error) {
		// The bracketed form finds nothing; the stripped retry does.
		if strings.Contains(query, "[") {
			return trackResult(), nil
		}
		return trackResult(fullTrack("Teardrop", "spotify:track:td", "Massive Attack")), nil
	}}
	c := newTestClient(api, nil)

	got, err := c.SearchTrack(context.Background(), "Massive Attack", "Teardrop [Mezzanine Sessions]", "")
	if err != nil {
		t.Fatalf("SearchTrack() error = %v", err)
	}
	if got != "spotify:track:td" {
		t.Errorf("SearchTrack() = %q, want bracket-stripped match", got)
	}
	if api.searchCalls != 2 {
		t.Errorf("search calls = %d, want 2 (original + stripped)", api.searchCalls)
	}
}

func TestSearchTrackCacheHit(t *testing.T) {
	api := &fakeAPI{searchFn: func(string) (*spotify.SearchResult, error) {
		return trackResult(fullTrack("Archangel", "spotify:track:aaa", "Burial")), nil
	}}
	c := newTestClient(api, NewMemoryCache())
	ctx := context.Background()

	for range 2 {
		got, err := c.SearchTrack(ctx, "Burial", "Archangel", "US")
		if err != nil {
			t.Fatalf("SearchTrack() error = %v", err)
		}
		if got != "spotify:track:aaa" {
			t.Errorf("SearchTrack() = %q, want spotify:track:aaa", got)
		}
	}
	if api.searchCalls != 1 {
		t.Errorf("search calls = %d, want 1 (second served from cache)", api.searchCalls)
	}
}

func TestSearchTrackCacheExpiry(t *testing.T) {
	api := &fakeAPI{searchFn: func(string) (*spotify.SearchResult, error) {
		return trackResult(fullTrack("Archangel", "spotify:track:aaa", "Burial")), nil
	}}
	c := newTestClient(api, NewMemoryCache())
	ctx := context.Background()

	base := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	if _, err := c.SearchTrack(ctx, "Burial", "Archangel", "US"); err != nil {
		t.Fatalf("SearchTrack() error = %v", err)
	}

	c.now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, err := c.SearchTrack(ctx, "Burial", "Archangel", "US"); err != nil {
		t.Fatalf("SearchTrack() error = %v", err)
	}
	if api.searchCalls != 2 {
		t.Errorf("search calls = %d, want 2 (entry expired)", api.searchCalls)
	}
}

func TestSearchTrackCacheIntegrityMismatch(t *testing.T) {
	api := &fakeAPI{searchFn: func(string) (*spotify.SearchResult, error) {
		return trackResult(fullTrack("Archangel", "spotify:track:aaa", "Burial")), nil
	}}
	cache := NewMemoryCache()
	c := newTestClient(api, cache)
	ctx := context.Background()

	// Plant an entry under Archangel's key that claims to be a different
	// query. The read must treat it as a miss and go live.
	query := "track:archangel burial"
	payload := []byte(`{"query":"track:other thing","market":"US","cached_at":"2099-01-01T00:00:00Z","tracks":[{"name":"Other","artists":["X"],"uri":"spotify:track:wrong"}]}`)
	if err := cache.Set(ctx, cacheKey("US", query), payload, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := c.SearchTrack(ctx, "Burial", "Archangel", "US")
	if err != nil {
		t.Fatalf("SearchTrack() error = %v", err)
	}
	if got != "spotify:track:aaa" {
		t.Errorf("SearchTrack() = %q, want live result, not poisoned cache", got)
	}
	if api.searchCalls != 1 {
		t.Errorf("search calls = %d, want 1", api.searchCalls)
	}
}

func TestAddTracksBatching(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api, nil)

	uris := make([]string, 501)
	for i := range uris {
		uris[i] = "spotify:track:t"
	}
	if err := c.AddTracks(context.Background(), "pl-123", uris); err != nil {
		t.Fatalf("AddTracks() error = %v", err)
	}

	if len(api.addCalls) != 6 {
		t.Fatalf("write calls = %d, want 6", len(api.addCalls))
	}
	for i := range 5 {
		if len(api.addCalls[i]) != 100 {
			t.Errorf("batch %d size = %d, want 100", i, len(api.addCalls[i]))
		}
	}
	if len(api.addCalls[5]) != 1 {
		t.Errorf("last batch size = %d, want 1", len(api.addCalls[5]))
	}
}

func TestCreatePlaylist(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api, nil)

	id, url, err := c.CreatePlaylist(context.Background(), "Lasthop Jun 10", "history since 2006")
	if err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	if id != "pl-123" {
		t.Errorf("id = %q, want pl-123", id)
	}
	if url != "https://open.spotify.com/playlist/pl-123" {
		t.Errorf("url = %q", url)
	}
}

func TestCreatePlaylistForbidden(t *testing.T) {
	api := &fakeAPI{createErr: spotify.Error{Status: 403, Message: "Insufficient client scope"}}
	c := newTestClient(api, nil)

	_, _, err := c.CreatePlaylist(context.Background(), "Lasthop Jun 10", "desc")
	if !errors.Is(err, ErrAuthorizationRequired) {
		t.Errorf("error = %v, want ErrAuthorizationRequired", err)
	}
}
