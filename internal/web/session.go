// Package web serves the JSON API and the Spotify authorization flow.
package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	sessionCookieName = "session_id"
	sessionTTL        = 24 * time.Hour
)

// Session is one listener's authorized Spotify link.
type Session struct {
	ID        string
	Token     *oauth2.Token
	SpotifyID string
	CreatedAt time.Time
}

// SessionStore keeps sessions in memory. Sessions do not survive a process
// restart; re-authorizing is cheap.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session for an authorized token.
func (s *SessionStore) Create(token *oauth2.Token, spotifyID string) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		SpotifyID: spotifyID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get returns the session with the given ID, or nil if absent or expired.
func (s *SessionStore) Get(id string) *Session {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || s.now().Sub(session.CreatedAt) > sessionTTL {
		return nil
	}
	return session
}

// Delete drops a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// FromRequest resolves the session referenced by the request cookie.
func (s *SessionStore) FromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	return s.Get(cookie.Value)
}

// SetCookie attaches the session cookie to the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
}

// ClearCookie removes the session cookie.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
