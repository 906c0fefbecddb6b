package spotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// CreatePlaylist creates a private playlist for the authenticated user and
// returns its ID and public URL.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string) (string, string, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return "", "", err
	}

	var playlist *spotify.FullPlaylist
	err = c.do(ctx, func() error {
		var err error
		playlist, err = c.api.CreatePlaylistForUser(ctx, userID, name, description, false, false)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("creating playlist %q: %w", name, err)
	}

	return playlist.ID.String(), playlist.ExternalURLs["spotify"], nil
}

// AddTracks appends track URIs to a playlist in batches, respecting the
// per-request limit.
func (c *Client) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	ids := make([]spotify.ID, len(uris))
	for i, uri := range uris {
		ids[i] = spotify.ID(strings.TrimPrefix(uri, "spotify:track:"))
	}

	for i := 0; i < len(ids); i += c.batchLimit {
		end := min(i+c.batchLimit, len(ids))
		batch := ids[i:end]

		err := c.do(ctx, func() error {
			_, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), batch...)
			return err
		})
		if err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, err)
		}
		c.log.Debug().Int("from", i+1).Int("to", end).Str("playlist", playlistID).Msg("added track batch")
	}
	return nil
}
