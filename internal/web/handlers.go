package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/lasthop/lasthop/internal/history"
	"github.com/lasthop/lasthop/internal/playlist"
	"github.com/lasthop/lasthop/internal/spotify"
)

// HistoryService is the slice of the aggregation engine the API exposes.
type HistoryService interface {
	GetOrCreateProfile(ctx context.Context, username string) (*history.Profile, error)
	GetStats(ctx context.Context, profile *history.Profile, tzOffsetMinutes int) (*history.Stats, error)
	ClearStats(ctx context.Context, username string) error
}

// Builder assembles playlists from year summaries.
type Builder interface {
	Build(ctx context.Context, catalog playlist.Catalog, profile *history.Profile, years []history.YearGroup, opts playlist.Options) (*playlist.Result, error)
}

// Handlers carries the API endpoints' dependencies.
type Handlers struct {
	history     HistoryService
	builder     Builder
	auth        *spotifyauth.Authenticator
	sessions    *SessionStore
	searchCache spotify.SearchCache
	spotifyCfg  spotify.Config
	// tracksPerYear is the default when a playlist request does not name one.
	tracksPerYear int
	log           zerolog.Logger
}

// NewHandlers wires the endpoint set.
func NewHandlers(historyService HistoryService, builder Builder, auth *spotifyauth.Authenticator, sessions *SessionStore, searchCache spotify.SearchCache, spotifyCfg spotify.Config, tracksPerYear int, logger zerolog.Logger) *Handlers {
	return &Handlers{
		history:       historyService,
		builder:       builder,
		auth:          auth,
		sessions:      sessions,
		searchCache:   searchCache,
		spotifyCfg:    spotifyCfg,
		tracksPerYear: tracksPerYear,
		log:           logger.With().Str("component", "web").Logger(),
	}
}

type statsResponse struct {
	User       *history.Profile    `json:"user"`
	Years      []history.YearGroup `json:"years"`
	CachedAt   string              `json:"cached_at"`
	FailedDays int                 `json:"failed_days,omitempty"`
}

// GetStats serves GET /api/stats?user=<name>&tz=<offset-minutes>.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("user")
	if username == "" {
		respondError(w, http.StatusBadRequest, "user parameter required")
		return
	}
	tzOffset, err := parseTZOffset(r.URL.Query().Get("tz"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "tz must be an offset in minutes")
		return
	}

	profile, err := h.history.GetOrCreateProfile(r.Context(), username)
	if err != nil {
		if errors.Is(err, history.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no Last.fm user named %q", username))
			return
		}
		h.log.Error().Err(err).Str("user", username).Msg("profile lookup failed")
		respondError(w, http.StatusBadGateway, "listening history is unavailable right now")
		return
	}

	stats, err := h.history.GetStats(r.Context(), profile, tzOffset)
	if err != nil {
		h.log.Error().Err(err).Str("user", username).Msg("stats aggregation failed")
		respondError(w, http.StatusBadGateway, "listening history is unavailable right now")
		return
	}

	respondJSON(w, http.StatusOK, statsResponse{
		User:       profile,
		Years:      stats.Years,
		CachedAt:   stats.CachedAt.Format("2006-01-02 15:04:05"),
		FailedDays: stats.FailedDays,
	})
}

// ClearStats serves POST /api/stats/clear.
func (h *Handlers) ClearStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		respondError(w, http.StatusBadRequest, `body must be {"user": "<name>"}`)
		return
	}

	if err := h.history.ClearStats(r.Context(), req.User); err != nil {
		h.log.Error().Err(err).Str("user", req.User).Msg("clearing stats failed")
		respondError(w, http.StatusInternalServerError, "could not clear cached stats")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playlistRequest struct {
	User             string `json:"user"`
	TZOffsetMinutes  int    `json:"tz_offset"`
	TracksPerYear    int    `json:"tracks_per_year"`
	OrderRecentFirst *bool  `json:"order_recent_first"`
	RepeatArtists    bool   `json:"repeat_artists"`
	SkipRecentDays   int    `json:"skip_recent_days"`
	Market           string `json:"market"`
}

type playlistResponse struct {
	PlaylistID  string `json:"playlist_id"`
	PlaylistURL string `json:"playlist_url"`
	TrackCount  int    `json:"track_count"`
}

// BuildPlaylist serves POST /api/playlist. Requires an authorized session.
func (h *Handlers) BuildPlaylist(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.FromRequest(r)
	if session == nil {
		respondError(w, http.StatusUnauthorized, "spotify authorization required, visit /auth/login")
		return
	}

	var req playlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		respondError(w, http.StatusBadRequest, `body must name a "user"`)
		return
	}

	profile, err := h.history.GetOrCreateProfile(r.Context(), req.User)
	if err != nil {
		if errors.Is(err, history.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no Last.fm user named %q", req.User))
			return
		}
		respondError(w, http.StatusBadGateway, "listening history is unavailable right now")
		return
	}

	stats, err := h.history.GetStats(r.Context(), profile, req.TZOffsetMinutes)
	if err != nil {
		h.log.Error().Err(err).Str("user", req.User).Msg("stats aggregation failed")
		respondError(w, http.StatusBadGateway, "listening history is unavailable right now")
		return
	}

	tracksPerYear := req.TracksPerYear
	if tracksPerYear <= 0 {
		tracksPerYear = h.tracksPerYear
	}
	opts := playlist.Options{
		TracksPerYear:    tracksPerYear,
		OrderRecentFirst: req.OrderRecentFirst == nil || *req.OrderRecentFirst,
		RepeatArtists:    req.RepeatArtists,
		SkipRecentDays:   req.SkipRecentDays,
		Market:           req.Market,
		TZOffsetMinutes:  req.TZOffsetMinutes,
	}

	result, err := h.builder.Build(r.Context(), h.catalogFor(r.Context(), session), profile, stats.Years, opts)
	switch {
	case errors.Is(err, playlist.ErrNoHistory):
		respondError(w, http.StatusNotFound, "no listening history for today")
		return
	case errors.Is(err, spotify.ErrAuthorizationRequired):
		// The grant was revoked out from under the session.
		h.sessions.Delete(session.ID)
		h.sessions.ClearCookie(w)
		respondError(w, http.StatusUnauthorized, "spotify authorization expired, visit /auth/login")
		return
	case err != nil:
		h.log.Error().Err(err).Str("user", req.User).Msg("playlist build failed")
		respondError(w, http.StatusBadGateway, "could not build the playlist")
		return
	}

	respondJSON(w, http.StatusCreated, playlistResponse{
		PlaylistID:  result.PlaylistID,
		PlaylistURL: result.PlaylistURL,
		TrackCount:  result.TrackCount,
	})
}

// catalogFor builds a Spotify wrapper bound to the session's token.
func (h *Handlers) catalogFor(ctx context.Context, session *Session) *spotify.Client {
	api := spotifyapi.New(h.auth.Client(ctx, session.Token))
	return spotify.New(api, h.searchCache, h.spotifyCfg)
}

// Me serves GET /api/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.FromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"spotify_id":    session.SpotifyID,
	})
}

// Health serves GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseTZOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
