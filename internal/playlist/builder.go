// Package playlist assembles anniversary listening history into a bounded,
// de-duplicated Spotify playlist.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lasthop/lasthop/internal/history"
	"github.com/lasthop/lasthop/internal/lastfm"
	"github.com/lasthop/lasthop/internal/metrics"
	"github.com/lasthop/lasthop/internal/spotify"
)

const defaultTracksPerYear = 5

// ErrNoHistory reports a build attempt with no usable listening history.
var ErrNoHistory = errors.New("playlist: no listening history for today")

// Catalog is the per-listener Spotify surface the builder writes through.
// Each listener brings their own authorized client.
type Catalog interface {
	SearchTrack(ctx context.Context, artist, title, market string) (string, error)
	CreatePlaylist(ctx context.Context, name, description string) (id, url string, err error)
	AddTracks(ctx context.Context, playlistID string, uris []string) error
}

// RecentSource lists scrobble keys played since a given time, for the
// skip-recently-played policy.
type RecentSource interface {
	ScrobbleKeysSince(ctx context.Context, username string, since time.Time) (map[string]struct{}, error)
}

// Options tune one build run. The zero value means five tracks per year,
// most recent year first, no artist repeats, no recency exclusion.
type Options struct {
	// TracksPerYear is clamped to the ceiling derived from the global
	// playlist length cap.
	TracksPerYear    int
	OrderRecentFirst bool
	// RepeatArtists allows an artist to contribute tracks to more than
	// one year's selection.
	RepeatArtists bool
	// SkipRecentDays excludes tracks scrobbled within the last N days.
	// Zero disables the policy.
	SkipRecentDays  int
	Market          string
	TZOffsetMinutes int
}

// Result describes the playlist a build produced.
type Result struct {
	PlaylistID  string
	PlaylistURL string
	TrackCount  int
}

// Builder turns year summaries into playlists.
type Builder struct {
	recent    RecentSource
	maxLength int
	log       zerolog.Logger

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewBuilder wires a builder. recent may be nil to disable the
// skip-recently-played policy; maxLength caps the whole playlist.
func NewBuilder(recent RecentSource, maxLength int, logger zerolog.Logger) *Builder {
	return &Builder{
		recent:    recent,
		maxLength: maxLength,
		log:       logger.With().Str("component", "playlist").Logger(),
		now:       time.Now,
		shuffle:   rand.Shuffle,
	}
}

type yearCandidates struct {
	day     time.Time
	artists []artistCandidate
}

type artistCandidate struct {
	artist string
	tracks []string
}

// Build assembles and writes a playlist from the listener's year summaries.
func (b *Builder) Build(ctx context.Context, catalog Catalog, profile *history.Profile, years []history.YearGroup, opts Options) (*Result, error) {
	if opts.TracksPerYear <= 0 {
		opts.TracksPerYear = defaultTracksPerYear
	}

	localNow := b.now().UTC().Add(-time.Duration(opts.TZOffsetMinutes) * time.Minute)

	skip := b.recentKeys(ctx, profile.Username, opts)
	candidates := formatCandidates(years, localNow.Year(), opts.OrderRecentFirst, skip)
	if len(candidates) == 0 {
		return nil, ErrNoHistory
	}

	quota := b.yearQuota(candidates, opts.TracksPerYear)
	b.log.Info().
		Str("user", profile.Username).
		Int("years", len(candidates)).
		Int("tracks_per_year", quota).
		Bool("repeat_artists", opts.RepeatArtists).
		Msg("assembling playlist")

	uris, err := b.selectTracks(ctx, catalog, candidates, quota, opts)
	if err != nil {
		return nil, err
	}

	name := "Lasthop " + localNow.Format("Jan 2")
	description := fmt.Sprintf(
		"What were you listening to on this day in previous years? %s's listening history on this day since %d",
		profile.Username, profile.JoinedAt.Year())

	playlistID, playlistURL, err := catalog.CreatePlaylist(ctx, name, description)
	if err != nil {
		return nil, err
	}
	if err := catalog.AddTracks(ctx, playlistID, uris); err != nil {
		return nil, err
	}

	metrics.PlaylistTracks.Observe(float64(len(uris)))
	b.log.Info().
		Str("user", profile.Username).
		Str("playlist", playlistID).
		Int("tracks", len(uris)).
		Msg("playlist created")

	return &Result{PlaylistID: playlistID, PlaylistURL: playlistURL, TrackCount: len(uris)}, nil
}

// recentKeys fetches the set of track keys played within the skip window.
// Failures degrade to an empty set; a stale recommendation beats no
// playlist.
func (b *Builder) recentKeys(ctx context.Context, username string, opts Options) map[string]struct{} {
	if b.recent == nil || opts.SkipRecentDays <= 0 {
		return nil
	}
	since := b.now().UTC().AddDate(0, 0, -opts.SkipRecentDays)
	keys, err := b.recent.ScrobbleKeysSince(ctx, username, since)
	if err != nil {
		b.log.Warn().Err(err).Str("user", username).Msg("recent-plays lookup failed, building without exclusions")
		return nil
	}
	b.log.Debug().Str("user", username).Int("keys", len(keys)).Msg("excluding recently played tracks")
	return keys
}

// formatCandidates flattens year summaries into the per-year artist/track
// table the selection loop walks. The current calendar year is excluded;
// track titles lose their apostrophes for friendlier search terms.
func formatCandidates(years []history.YearGroup, currentYear int, recentFirst bool, skip map[string]struct{}) []yearCandidates {
	ordered := years
	if !recentFirst {
		ordered = make([]history.YearGroup, len(years))
		for i, y := range years {
			ordered[len(years)-1-i] = y
		}
	}

	out := make([]yearCandidates, 0, len(ordered))
	for _, year := range ordered {
		if year.Day.Year() == currentYear {
			continue
		}
		yc := yearCandidates{day: year.Day}
		for _, group := range year.Artists {
			tracks := make([]string, 0, len(group.Tracks))
			for _, play := range group.Tracks {
				if _, recent := skip[lastfm.TrackKey(group.Artist, play.Title)]; recent {
					continue
				}
				tracks = append(tracks, strings.ReplaceAll(play.Title, "'", ""))
			}
			if len(tracks) > 0 {
				yc.artists = append(yc.artists, artistCandidate{artist: group.Artist, tracks: tracks})
			}
		}
		if len(yc.artists) > 0 {
			out = append(out, yc)
		}
	}
	return out
}

// yearQuota derives the per-year track ceiling from the global length cap
// and clamps the requested count to it.
func (b *Builder) yearQuota(candidates []yearCandidates, requested int) int {
	mostArtists := 0
	for _, yc := range candidates {
		if len(yc.artists) > mostArtists {
			mostArtists = len(yc.artists)
		}
	}
	ceiling := min(b.maxLength/len(candidates), mostArtists)
	if ceiling < 1 {
		ceiling = 1
	}
	return min(requested, ceiling)
}

// selectTracks walks each year's artist groups resolving one track per
// artist against the catalog, de-duplicating across the whole playlist.
func (b *Builder) selectTracks(ctx context.Context, catalog Catalog, candidates []yearCandidates, quota int, opts Options) ([]string, error) {
	var (
		uris        []string
		usedURIs    = map[string]struct{}{}
		usedArtists = map[string]bool{}
		usedTracks  = map[string]map[string]bool{}
	)

	for _, year := range candidates {
		added := 0
		for _, candidate := range year.artists {
			if added >= quota {
				break
			}
			if !opts.RepeatArtists && usedArtists[candidate.artist] {
				continue
			}

			tracks := b.shuffledUnique(candidate.tracks, usedTracks[candidate.artist])
			uri, title, err := b.resolveFirst(ctx, catalog, candidate.artist, tracks, opts.Market, usedURIs)
			if err != nil {
				return nil, err
			}
			if uri == "" {
				b.log.Debug().Str("artist", candidate.artist).Msg("no resolvable tracks for artist")
				continue
			}

			uris = append(uris, uri)
			usedURIs[uri] = struct{}{}
			usedArtists[candidate.artist] = true
			if usedTracks[candidate.artist] == nil {
				usedTracks[candidate.artist] = map[string]bool{}
			}
			usedTracks[candidate.artist][title] = true
			added++
		}
		b.log.Debug().
			Int("year", year.day.Year()).
			Int("added", added).
			Int("artists", len(year.artists)).
			Msg("year selection done")
	}
	return uris, nil
}

// shuffledUnique de-duplicates an artist's titles, drops ones already used
// in earlier years, and shuffles the rest.
func (b *Builder) shuffledUnique(tracks []string, alreadyUsed map[string]bool) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if seen[t] || alreadyUsed[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	b.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// resolveFirst walks the candidate titles until one resolves to a URI not
// already in the playlist. Revoked authorization aborts the build; any
// other search failure is logged and the candidate treated as unresolved.
func (b *Builder) resolveFirst(ctx context.Context, catalog Catalog, artist string, tracks []string, market string, usedURIs map[string]struct{}) (string, string, error) {
	for _, title := range tracks {
		uri, err := catalog.SearchTrack(ctx, artist, title, market)
		if err != nil {
			if errors.Is(err, spotify.ErrAuthorizationRequired) {
				return "", "", err
			}
			b.log.Warn().Err(err).Str("artist", artist).Str("title", title).Msg("track search failed")
			continue
		}
		if uri == "" {
			b.log.Debug().Str("artist", artist).Str("title", title).Msg("no catalog match")
			continue
		}
		if _, dup := usedURIs[uri]; dup {
			continue
		}
		return uri, title, nil
	}
	return "", "", nil
}
