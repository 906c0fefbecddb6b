package spotify

import (
	"context"
	"regexp"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// maxBracketDepth caps the bracket-stripping retry recursion.
const maxBracketDepth = 2

var bracketedRe = regexp.MustCompile(`[(\[][^)\]]*[)\]]`)

// SearchTrack resolves an artist and title to a track URI. Returns "" with
// a nil error when the catalog has no acceptable match.
func (c *Client) SearchTrack(ctx context.Context, artist, title, market string) (string, error) {
	return c.searchTrack(ctx, artist, title, market, 0)
}

func (c *Client) searchTrack(ctx context.Context, artist, title, market string, depth int) (string, error) {
	normTitle := Normalize(title)
	normArtist := Normalize(artist)
	if normTitle == "" || normArtist == "" {
		return "", nil
	}

	query := "track:" + normTitle + " " + normArtist
	market = strings.ToUpper(market)

	candidates, ok := c.cachedCandidates(ctx, query, market)
	if !ok {
		var err error
		candidates, err = c.remoteSearch(ctx, query, market)
		if err != nil {
			return "", err
		}
		c.storeCandidates(ctx, query, market, candidates)
	}

	if uri := matchCandidate(candidates, artist, normTitle); uri != "" {
		return uri, nil
	}

	// No match: retry without bracketed content, once per bracket type.
	if depth < maxBracketDepth && bracketedRe.MatchString(title) {
		stripped := strings.TrimSpace(bracketedRe.ReplaceAllString(title, ""))
		if stripped != "" && stripped != title {
			c.log.Debug().Str("title", title).Str("retry", stripped).Msg("retrying search without brackets")
			return c.searchTrack(ctx, artist, stripped, market, depth+1)
		}
	}
	return "", nil
}

func (c *Client) remoteSearch(ctx context.Context, query, market string) ([]Track, error) {
	opts := []spotify.RequestOption{spotify.Limit(searchResultLimit)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}

	var result *spotify.SearchResult
	err := c.do(ctx, func() error {
		var err error
		result, err = c.api.Search(ctx, query, spotify.SearchTypeTrack, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.Tracks == nil {
		return nil, nil
	}

	candidates := make([]Track, 0, len(result.Tracks.Tracks))
	for _, full := range result.Tracks.Tracks {
		artists := make([]string, len(full.Artists))
		for i, a := range full.Artists {
			artists[i] = a.Name
		}
		candidates = append(candidates, Track{
			Name:    full.Name,
			Artists: artists,
			URI:     string(full.URI),
		})
	}
	return candidates, nil
}

// matchCandidate picks the first candidate whose artist credit matches the
// queried artist and whose title is not a live variant, unless the query
// itself asked for a live version.
func matchCandidate(candidates []Track, artist, normTitle string) string {
	wantArtist := normalizeArtistCredit(artist)
	wantLive := strings.Contains(normTitle, "live")

	for _, candidate := range candidates {
		if !wantLive && isLiveVariant(candidate.Name) {
			continue
		}
		for _, credit := range candidate.Artists {
			if artistMatches(credit, wantArtist) {
				return candidate.URI
			}
		}
	}
	return ""
}

func artistMatches(credit, wantArtist string) bool {
	got := normalizeArtistCredit(credit)
	if got == wantArtist {
		return true
	}
	// Multi-artist credits match on the lead artist.
	if lead, _, ok := strings.Cut(credit, ","); ok {
		return normalizeArtistCredit(lead) == wantArtist
	}
	return false
}

func isLiveVariant(title string) bool {
	title = strings.ToLower(title)
	return strings.Contains(title, " - live") || strings.Contains(title, "live at ")
}
