package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/lasthop/lasthop/internal/history"
	"github.com/lasthop/lasthop/internal/playlist"
	"github.com/lasthop/lasthop/internal/spotify"
)

type fakeHistory struct {
	profile  *history.Profile
	stats    *history.Stats
	err      error
	statsErr error
	cleared  []string
}

func (f *fakeHistory) GetOrCreateProfile(_ context.Context, username string) (*history.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &history.Profile{Username: username}, nil
}

func (f *fakeHistory) GetStats(context.Context, *history.Profile, int) (*history.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return &history.Stats{Years: []history.YearGroup{}}, nil
}

func (f *fakeHistory) ClearStats(_ context.Context, username string) error {
	f.cleared = append(f.cleared, username)
	return nil
}

type fakeBuilder struct {
	result *playlist.Result
	err    error
}

func (f *fakeBuilder) Build(context.Context, playlist.Catalog, *history.Profile, []history.YearGroup, playlist.Options) (*playlist.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestHandlers(h HistoryService, b Builder) (*Handlers, *SessionStore) {
	auth := spotifyauth.New(
		spotifyauth.WithClientID("id"),
		spotifyauth.WithClientSecret("secret"),
		spotifyauth.WithRedirectURL("http://127.0.0.1/callback"),
	)
	sessions := NewSessionStore()
	handlers := NewHandlers(h, b, auth, sessions, nil, spotify.Config{Logger: zerolog.Nop()}, 5, zerolog.Nop())
	return handlers, sessions
}

func TestGetStatsRequiresUser(t *testing.T) {
	handlers, _ := newTestHandlers(&fakeHistory{}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetStatsUnknownUser(t *testing.T) {
	handlers, _ := newTestHandlers(&fakeHistory{err: history.ErrProfileNotFound}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats?user=nobody", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	cachedAt := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	fake := &fakeHistory{
		profile: &history.Profile{Username: "Schiz0rr"},
		stats: &history.Stats{
			Years: []history.YearGroup{{
				Day: time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC),
				Artists: []history.ArtistGroup{
					{Artist: "Burial", Playcount: 2},
				},
			}},
			CachedAt: cachedAt,
		},
	}
	handlers, _ := newTestHandlers(fake, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats?user=Schiz0rr&tz=-60", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.User.Username != "Schiz0rr" || len(resp.Years) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.CachedAt != "2024-06-10 09:30:00" {
		t.Errorf("cached_at = %q", resp.CachedAt)
	}
}

func TestGetStatsRejectsBadOffset(t *testing.T) {
	handlers, _ := newTestHandlers(&fakeHistory{}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats?user=x&tz=abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestClearStats(t *testing.T) {
	fake := &fakeHistory{}
	handlers, _ := newTestHandlers(fake, &fakeBuilder{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stats/clear", strings.NewReader(`{"user":"Schiz0rr"}`))
	handlers.ClearStats(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if len(fake.cleared) != 1 || fake.cleared[0] != "Schiz0rr" {
		t.Errorf("cleared = %v", fake.cleared)
	}
}

func TestClearStatsRequiresBody(t *testing.T) {
	handlers, _ := newTestHandlers(&fakeHistory{}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.ClearStats(rec, httptest.NewRequest(http.MethodPost, "/api/stats/clear", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBuildPlaylistRequiresSession(t *testing.T) {
	handlers, _ := newTestHandlers(&fakeHistory{}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/playlist", strings.NewReader(`{"user":"Schiz0rr"}`))
	handlers.BuildPlaylist(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func sessionRequest(sessions *SessionStore, method, target, body string) *http.Request {
	session := sessions.Create(&oauth2.Token{AccessToken: "tok"}, "spotify-user")
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session.ID})
	return req
}

func TestBuildPlaylist(t *testing.T) {
	builder := &fakeBuilder{result: &playlist.Result{
		PlaylistID:  "pl-1",
		PlaylistURL: "https://open.spotify.com/playlist/pl-1",
		TrackCount:  12,
	}}
	handlers, sessions := newTestHandlers(&fakeHistory{}, builder)

	rec := httptest.NewRecorder()
	handlers.BuildPlaylist(rec, sessionRequest(sessions, http.MethodPost, "/api/playlist", `{"user":"Schiz0rr","tz_offset":-60}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body)
	}
	var resp playlistResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.PlaylistID != "pl-1" || resp.TrackCount != 12 {
		t.Errorf("response = %+v", resp)
	}
}

func TestBuildPlaylistNoHistory(t *testing.T) {
	handlers, sessions := newTestHandlers(&fakeHistory{}, &fakeBuilder{err: playlist.ErrNoHistory})

	rec := httptest.NewRecorder()
	handlers.BuildPlaylist(rec, sessionRequest(sessions, http.MethodPost, "/api/playlist", `{"user":"Schiz0rr"}`))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBuildPlaylistRevokedAuthorizationDropsSession(t *testing.T) {
	handlers, sessions := newTestHandlers(&fakeHistory{}, &fakeBuilder{err: spotify.ErrAuthorizationRequired})

	req := sessionRequest(sessions, http.MethodPost, "/api/playlist", `{"user":"Schiz0rr"}`)
	rec := httptest.NewRecorder()
	handlers.BuildPlaylist(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if sessions.FromRequest(req) != nil {
		t.Error("session should have been dropped")
	}
}

func TestMe(t *testing.T) {
	handlers, sessions := newTestHandlers(&fakeHistory{}, &fakeBuilder{})

	rec := httptest.NewRecorder()
	handlers.Me(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if !strings.Contains(rec.Body.String(), `"authenticated":false`) {
		t.Errorf("anonymous body = %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	handlers.Me(rec, sessionRequest(sessions, http.MethodGet, "/api/me", ""))
	if !strings.Contains(rec.Body.String(), `"spotify-user"`) {
		t.Errorf("authorized body = %s", rec.Body)
	}
}

func TestSessionExpiry(t *testing.T) {
	sessions := NewSessionStore()
	session := sessions.Create(&oauth2.Token{AccessToken: "tok"}, "spotify-user")

	if sessions.Get(session.ID) == nil {
		t.Fatal("fresh session not found")
	}

	sessions.now = func() time.Time { return time.Now().Add(sessionTTL + time.Minute) }
	if sessions.Get(session.ID) != nil {
		t.Error("expired session still served")
	}
}
