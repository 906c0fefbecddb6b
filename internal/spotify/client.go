// Package spotify wraps the Spotify Web API for track resolution and
// playlist writes.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"

	"github.com/lasthop/lasthop/internal/metrics"
	"github.com/lasthop/lasthop/internal/retry"
)

const (
	defaultBatchLimit  = 100
	defaultCacheMaxAge = 24 * time.Hour
	searchResultLimit  = 10
)

// ErrAuthorizationRequired marks a write rejected by Spotify for lack of
// consent. It is never retried; the caller has to re-run the authorization
// flow.
var ErrAuthorizationRequired = errors.New("spotify authorization required")

// WebAPI is the slice of the Spotify client the wrapper depends on.
type WebAPI interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
	CreatePlaylistForUser(ctx context.Context, userID, name, description string, public, collaborative bool) (*spotify.FullPlaylist, error)
	AddTracksToPlaylist(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) (string, error)
	Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error)
}

// Config carries the wrapper's tunables.
type Config struct {
	// BatchLimit caps how many tracks go into one playlist-write request.
	BatchLimit int
	// CacheMaxAge bounds how long a cached search result stays servable.
	CacheMaxAge time.Duration
	Retry       retry.Policy
	Logger      zerolog.Logger
}

// Client wraps an authenticated Spotify API client with search caching,
// retry, and batched playlist writes.
type Client struct {
	api        WebAPI
	cache      SearchCache
	batchLimit int
	maxAge     time.Duration
	policy     retry.Policy
	log        zerolog.Logger

	now func() time.Time
}

// New builds a wrapper over an already-authenticated API client. cache may
// be nil to disable search caching.
func New(api WebAPI, cache SearchCache, cfg Config) *Client {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = defaultCacheMaxAge
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	return &Client{
		api:        api,
		cache:      cache,
		batchLimit: cfg.BatchLimit,
		maxAge:     cfg.CacheMaxAge,
		policy:     cfg.Retry,
		log:        cfg.Logger.With().Str("component", "spotify").Logger(),
		now:        time.Now,
	}
}

// UserID returns the authenticated user's Spotify ID.
func (c *Client) UserID(ctx context.Context) (string, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", classify(err))
	}
	return user.ID, nil
}

// classify maps Spotify API failures onto the wrapper's error taxonomy.
// Consent failures surface as ErrAuthorizationRequired; rate limits and
// server errors become retryable.
func classify(err error) error {
	var apiErr spotify.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
		metrics.AuthorizationFailures.Inc()
		return fmt.Errorf("%w: %s", ErrAuthorizationRequired, apiErr.Message)
	case retry.IsTransientStatus(apiErr.Status):
		return retry.Transient(apiErr.Status, err)
	}
	return err
}

// do runs op under the retry policy, keeping authorization failures
// permanent.
func (c *Client) do(ctx context.Context, op func() error) error {
	return c.policy.Do(ctx, c.log, func() error {
		err := op()
		if err == nil {
			return nil
		}
		return classify(err)
	})
}
