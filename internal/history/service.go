// Package history reconstructs what a listener was playing "on this day" in
// every prior year of their scrobbling history.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lasthop/lasthop/internal/docstore"
	"github.com/lasthop/lasthop/internal/lastfm"
	"github.com/lasthop/lasthop/internal/metrics"
)

// ErrProfileNotFound is returned when the listener identity is unknown upstream.
var ErrProfileNotFound = errors.New("listener profile not found")

// Source is the slice of the Last.fm client the engine consumes.
type Source interface {
	UserInfo(ctx context.Context, username string) (*lastfm.UserInfo, error)
	FetchDay(ctx context.Context, username string, date, start, end time.Time) ([]lastfm.Scrobble, error)
	ArtistTopTags(ctx context.Context, artist string) ([]lastfm.Tag, error)
}

// Service is the history aggregation engine.
type Service struct {
	source Source
	store  docstore.Store
	log    zerolog.Logger

	now func() time.Time
}

// NewService creates the aggregation engine.
func NewService(source Source, store docstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		log:    logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// GetOrCreateProfile resolves a username to its canonical profile, creating
// the stored record on first sight. Returns ErrProfileNotFound for
// identities unknown to Last.fm.
func (s *Service) GetOrCreateProfile(ctx context.Context, username string) (*Profile, error) {
	if doc, err := s.store.Get(ctx, docstore.CollectionUsers, username); err == nil {
		var p Profile
		if ok, err := doc.Field("user_info", &p); err == nil && ok && p.Username != "" {
			return &p, nil
		}
	} else if !errors.Is(err, docstore.ErrNotFound) {
		// Read failures degrade to a profile re-fetch.
		s.log.Warn().Err(err).Str("user", username).Msg("profile cache read failed")
	}

	info, err := s.source.UserInfo(ctx, username)
	if err != nil {
		if errors.Is(err, lastfm.ErrUserNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("looking up listener %q: %w", username, err)
	}

	p := &Profile{
		Username:    info.Name,
		RealName:    info.RealName,
		JoinedAt:    info.JoinedAt,
		TotalTracks: info.TotalTracks,
	}

	err = s.store.Set(ctx, docstore.CollectionUsers, p.Username, map[string]any{
		"user_info":    p,
		"days_visited": 0,
	}, true)
	if err != nil {
		return nil, fmt.Errorf("persisting profile for %q: %w", p.Username, err)
	}

	if n, err := s.store.Count(ctx, docstore.CollectionUsers); err == nil {
		metrics.Users.Set(float64(n))
	}

	s.log.Info().Str("user", p.Username).Time("joined", p.JoinedAt).Msg("created listener profile")
	return p, nil
}

// GetStats returns the listener's per-year anniversary summary. Raw per-day
// data is served from the document cache when it was fetched on the same
// local calendar day with the same timezone offset; anything else forces a
// live recompute.
func (s *Service) GetStats(ctx context.Context, profile *Profile, tzOffsetMinutes int) (*Stats, error) {
	nowUTC := s.now().UTC()
	localNow := localize(nowUTC, tzOffsetMinutes)

	var (
		days       []cachedDay
		artistTags = map[string]string{}
		cachedAt   time.Time
		failed     int
	)

	if doc, err := s.store.Get(ctx, docstore.CollectionUsers, profile.Username); err == nil {
		days, artistTags, cachedAt = s.freshCachedData(doc, tzOffsetMinutes, localNow, profile.Username)
	} else if !errors.Is(err, docstore.ErrNotFound) {
		s.log.Warn().Err(err).Str("user", profile.Username).Msg("stats cache read failed, recomputing")
	}

	if days == nil {
		dates := listYearDates(statsStartDate(localNow), profile.JoinedAt)
		if len(dates) == 0 {
			// Joined less than a year ago: no anniversaries yet.
			return &Stats{Years: []YearGroup{}, CachedAt: localNow}, nil
		}

		days, failed = s.fetchDays(ctx, profile.Username, dates, tzOffsetMinutes)
		cachedAt = nowUTC

		err := s.store.Set(ctx, docstore.CollectionUsers, profile.Username, map[string]any{
			"data":        days,
			"date_cached": cachedAt,
			"tz_offset":   tzOffsetMinutes,
		}, true)
		if err != nil {
			// The summary can still be served; only freshness is lost.
			s.log.Error().Err(err).Str("user", profile.Username).Msg("persisting stats failed")
		}
		s.incrementDaysVisited(ctx, profile.Username)
	}

	years := s.summarize(ctx, profile.Username, days, tzOffsetMinutes, artistTags)

	return &Stats{
		Years:      years,
		CachedAt:   localize(cachedAt, tzOffsetMinutes),
		FailedDays: failed,
	}, nil
}

// ClearStats wipes the cached stats content while keeping the profile record.
func (s *Service) ClearStats(ctx context.Context, username string) error {
	err := s.store.Set(ctx, docstore.CollectionUsers, username, map[string]any{
		"data":        nil,
		"date_cached": nil,
	}, true)
	if err != nil {
		return fmt.Errorf("clearing stats for %q: %w", username, err)
	}
	s.log.Info().Str("user", username).Msg("cleared cached stats")
	return nil
}

// freshCachedData returns the cached day payload if it is still fresh for
// the requested offset, or nil to force a recompute.
func (s *Service) freshCachedData(doc docstore.Document, tzOffsetMinutes int, localNow time.Time, username string) ([]cachedDay, map[string]string, time.Time) {
	tags := map[string]string{}
	if ok, err := doc.Field("artist_tags", &tags); err != nil || !ok {
		tags = map[string]string{}
	}

	var cachedAt time.Time
	if ok, err := doc.Field("date_cached", &cachedAt); err != nil || !ok {
		return nil, tags, time.Time{}
	}

	var cachedOffset int
	if ok, err := doc.Field("tz_offset", &cachedOffset); err != nil || !ok || cachedOffset != tzOffsetMinutes {
		s.log.Info().Str("user", username).Msg("cached stats are for a different timezone offset")
		return nil, tags, time.Time{}
	}

	if !sameCalendarDay(localize(cachedAt.UTC(), tzOffsetMinutes), localNow) {
		s.log.Info().Str("user", username).Time("cached_at", cachedAt).Msg("cached stats are not for today")
		return nil, tags, time.Time{}
	}

	var days []cachedDay
	if ok, err := doc.Field("data", &days); err != nil || !ok {
		return nil, tags, time.Time{}
	}

	s.log.Info().Str("user", username).Time("cached_at", cachedAt).Msg("serving stats from cache")
	return days, tags, cachedAt.UTC()
}

// fetchDays fans one fetch per anniversary date out to the history source
// and joins them all. Failed or empty days are omitted; failures are counted
// but never abort sibling fetches.
func (s *Service) fetchDays(ctx context.Context, username string, dates []time.Time, tzOffsetMinutes int) ([]cachedDay, int) {
	s.log.Info().Str("user", username).Int("days", len(dates)).Msg("fetching history")

	results := make([][]lastfm.Scrobble, len(dates))
	errs := make([]error, len(dates))

	var wg sync.WaitGroup
	for i, date := range dates {
		wg.Add(1)
		go func(i int, date time.Time) {
			defer wg.Done()
			start, end := dayWindow(date, tzOffsetMinutes)
			results[i], errs[i] = s.source.FetchDay(ctx, username, date, start, end)
		}(i, date)
	}
	wg.Wait()

	var (
		days   []cachedDay
		failed int
	)
	for i, date := range dates {
		if errs[i] != nil {
			failed++
			metrics.DayFetchFailures.Inc()
			s.log.Warn().Err(errs[i]).Str("user", username).Time("day", date).Msg("day fetch failed, omitting")
			continue
		}
		if len(results[i]) == 0 {
			continue
		}
		day := cachedDay{
			Day: time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		}
		for _, sc := range results[i] {
			cs := cachedScrobble{Artist: sc.Artist, Title: sc.Title}
			if !sc.NowPlaying && !sc.At.IsZero() {
				cs.UTS = sc.At.Unix()
			}
			day.Tracks = append(day.Tracks, cs)
		}
		days = append(days, day)
	}
	return days, failed
}

// incrementDaysVisited bumps the listener's recompute counter.
func (s *Service) incrementDaysVisited(ctx context.Context, username string) {
	visits := 1
	if doc, err := s.store.Get(ctx, docstore.CollectionUsers, username); err == nil {
		_, _ = doc.Field("days_visited", &visits)
	}
	visits++

	err := s.store.Set(ctx, docstore.CollectionUsers, username, map[string]any{
		"days_visited": visits,
	}, true)
	if err != nil {
		s.log.Warn().Err(err).Str("user", username).Msg("updating days visited failed")
		return
	}
	metrics.DaysVisited.Inc()
	s.log.Info().Str("user", username).Int("days_visited", visits).Msg("listener visit recorded")
}
