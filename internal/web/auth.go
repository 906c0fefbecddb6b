package web

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	spotifyapi "github.com/zmb3/spotify/v2"
)

const oauthStateCookie = "oauth_state"

// Login starts the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not start authorization")
		return
	}

	// State round-trips through a short-lived cookie for CSRF protection.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing state cookie")
		return
	}
	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		respondError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("spotify authorization error: %s", errMsg))
		return
	}

	token, err := h.auth.Token(r.Context(), state, r)
	if err != nil {
		h.log.Error().Err(err).Msg("token exchange failed")
		respondError(w, http.StatusInternalServerError, "could not complete authorization")
		return
	}

	client := spotifyapi.New(h.auth.Client(r.Context(), token))
	user, err := client.CurrentUser(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("current-user lookup failed after authorization")
		respondError(w, http.StatusInternalServerError, "could not complete authorization")
		return
	}

	session := h.sessions.Create(token, user.ID)
	h.sessions.SetCookie(w, session)
	h.log.Info().Str("spotify_id", user.ID).Msg("listener authorized")

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout drops the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.FromRequest(r); session != nil {
		h.sessions.Delete(session.ID)
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
