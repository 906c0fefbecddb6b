package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/lasthop/lasthop/internal/docstore"
)

// nonTag is a Last.fm tag that carries no genre information.
const nonTag = "seen live"

// summarize turns raw per-day payloads into playcount-ordered year groups.
// Events are re-filtered against each day's local window independently of
// fetch-time filtering, so a stale cache entry can never leak a neighboring
// day's plays.
func (s *Service) summarize(ctx context.Context, username string, days []cachedDay, tzOffsetMinutes int, artistTags map[string]string) []YearGroup {
	localNow := localize(s.now().UTC(), tzOffsetMinutes)
	// UTC instant of the listener's local midnight today.
	todayStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, time.UTC).
		Add(minuteOffset(tzOffsetMinutes))

	var (
		result  []YearGroup
		newTags bool
	)
	for _, day := range days {
		yearDiff := todayStart.Year() - day.Day.Year()
		if yearDiff < 0 {
			yearDiff = -yearDiff
		}
		start := minusYears(todayStart, yearDiff)
		if start.Month() != todayStart.Month() || start.Day() != todayStart.Day() {
			// The anniversary does not exist in that year (leap day).
			continue
		}
		end := start.Add(24*time.Hour - time.Microsecond)

		group := summarizeDay(day, start, end, tzOffsetMinutes)
		if len(group.Artists) == 0 {
			continue
		}

		top := group.TopArtist()
		if tag, ok := s.topTagForArtist(ctx, top.Artist, artistTags); ok {
			if artistTags[strings.ToLower(top.Artist)] != tag {
				artistTags[strings.ToLower(top.Artist)] = tag
				newTags = true
			}
			top.Tag = tag
		}

		result = append(result, group)
	}

	if newTags {
		err := s.store.Set(ctx, docstore.CollectionUsers, username, map[string]any{
			"artist_tags": artistTags,
		}, true)
		if err != nil {
			s.log.Warn().Err(err).Str("user", username).Msg("persisting artist tags failed")
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Day.After(result[j].Day)
	})
	return result
}

// summarizeDay groups one day's events by artist inside [start, end].
func summarizeDay(day cachedDay, start, end time.Time, tzOffsetMinutes int) YearGroup {
	group := YearGroup{Day: localize(start, tzOffsetMinutes)}

	index := map[string]int{}
	for _, sc := range day.Tracks {
		if sc.UTS == 0 {
			// Currently playing, not a completed listen.
			continue
		}
		at := time.Unix(sc.UTS, 0).UTC()
		if at.Before(start) || at.After(end) {
			continue
		}

		play := TrackPlay{
			Title:  sc.Title,
			Artist: sc.Artist,
			At:     localize(at, tzOffsetMinutes),
		}
		group.Scrobbles = append(group.Scrobbles, play)

		if i, ok := index[sc.Artist]; ok {
			group.Artists[i].Playcount++
			group.Artists[i].Tracks = append(group.Artists[i].Tracks, play)
		} else {
			index[sc.Artist] = len(group.Artists)
			group.Artists = append(group.Artists, ArtistGroup{
				Artist:    sc.Artist,
				Playcount: 1,
				Tracks:    []TrackPlay{play},
			})
		}
	}

	// Stable keeps first-listened order for equal playcounts.
	sort.SliceStable(group.Artists, func(i, j int) bool {
		return group.Artists[i].Playcount > group.Artists[j].Playcount
	})
	return group
}

// topTagForArtist resolves an artist's genre tag: the listener's own tag map
// first, the shared artist-tag cache second, the tag API last. Resolution
// failures only cost the tag, never the summary.
func (s *Service) topTagForArtist(ctx context.Context, artist string, artistTags map[string]string) (string, bool) {
	key := strings.ToLower(artist)
	if tag, ok := artistTags[key]; ok && tag != "" {
		return tag, true
	}

	if doc, err := s.store.Get(ctx, docstore.CollectionArtists, key); err == nil {
		var tag string
		if ok, err := doc.Field("tag", &tag); err == nil && ok && tag != "" {
			return tag, true
		}
	} else if !errors.Is(err, docstore.ErrNotFound) {
		s.log.Warn().Err(err).Str("artist", artist).Msg("artist tag cache read failed")
	}

	tags, err := s.source.ArtistTopTags(ctx, artist)
	if err != nil {
		s.log.Warn().Err(err).Str("artist", artist).Msg("tag lookup failed")
		return "", false
	}

	for _, t := range tags {
		if strings.Contains(strings.ToLower(t.Name), nonTag) {
			continue
		}
		tag := strings.ToLower(t.Name)
		if err := s.store.Set(ctx, docstore.CollectionArtists, key, map[string]any{"tag": tag}, true); err != nil {
			s.log.Warn().Err(err).Str("artist", artist).Msg("persisting artist tag failed")
		}
		return tag, true
	}
	return "", false
}
