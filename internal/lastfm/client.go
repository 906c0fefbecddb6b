// Package lastfm provides the Last.fm API client used for history
// aggregation: profile lookup, per-day scrobble queries, and artist tags.
package lastfm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lasthop/lasthop/internal/metrics"
	"github.com/lasthop/lasthop/internal/retry"
)

const (
	baseURL   = "https://ws.audioscrobbler.com/2.0/"
	userAgent = "lasthop/1.0"

	// pageLimit is the page size for user.getrecenttracks.
	pageLimit = 200

	defaultWorkers = 20
)

// Last.fm API error codes.
const (
	errCodeInvalidParams = 6
	errCodeInvalidAPIKey = 10
	errCodeRateLimited   = 29
)

// Sentinel errors.
var (
	// ErrUserNotFound is returned when the listener identity is unknown to Last.fm.
	ErrUserNotFound = errors.New("last.fm user not found")

	// ErrInvalidAPIKey is returned when the API key is invalid.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrUpstreamUnavailable is returned when a call still fails after retries.
	ErrUpstreamUnavailable = errors.New("last.fm unavailable")
)

// Config holds client configuration.
type Config struct {
	APIKey string
	// Workers bounds the pool used for concurrent recent-tracks pagination.
	Workers int
	Retry   retry.Policy
	Logger  zerolog.Logger
}

// Client is a Last.fm API client with retry on transient failures.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	workers    int
	policy     retry.Policy
	log        zerolog.Logger

	now func() time.Time
}

// NewClient creates a new Last.fm API client from the provided configuration.
func NewClient(cfg Config) *Client {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}
	return &Client{
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: baseURL,
		workers: workers,
		policy:  policy,
		log:     cfg.Logger.With().Str("component", "lastfm").Logger(),
		now:     time.Now,
	}
}

// UserInfo fetches the listener's profile. Returns ErrUserNotFound for
// unknown identities.
func (c *Client) UserInfo(ctx context.Context, username string) (*UserInfo, error) {
	params := url.Values{"user": {username}}

	body, err := c.query(ctx, "user.getinfo", params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == errCodeInvalidParams {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	var resp userInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing user info response: %w", err)
	}
	if resp.User == nil || resp.User.Name == "" {
		return nil, ErrUserNotFound
	}

	unix, err := strconv.ParseFloat(resp.User.Registered.UnixTime, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing join date %q: %w", resp.User.Registered.UnixTime, err)
	}
	total, _ := strconv.Atoi(resp.User.PlayCount)

	return &UserInfo{
		Name:        resp.User.Name,
		RealName:    resp.User.RealName,
		JoinedAt:    time.Unix(int64(unix), 0).UTC(),
		TotalTracks: total,
	}, nil
}

// FetchDay returns the listener's scrobbles within [start, end), ordered as
// the API returns them (most recent first). date is the anniversary wall
// date the window represents; it drives the now-playing artifact rules:
//   - a now-playing head on a day that is not today (UTC) belongs to today
//     and is dropped
//   - a now-playing head on today that duplicates the next entry's title is
//     a live-polling artifact and is dropped
//
// Failures after retries are reported wrapped in ErrUpstreamUnavailable.
func (c *Client) FetchDay(ctx context.Context, username string, date, start, end time.Time) ([]Scrobble, error) {
	first, totalPages, err := c.recentTracksPage(ctx, username, start.Unix(), end.Unix(), 1)
	if err != nil {
		metrics.LastfmErrors.Inc()
		return nil, fmt.Errorf("day %s: %w: %w", date.Format("2006-01-02"), ErrUpstreamUnavailable, err)
	}

	tracks := first
	for page := 2; page <= totalPages; page++ {
		next, _, err := c.recentTracksPage(ctx, username, start.Unix(), end.Unix(), page)
		if err != nil {
			metrics.LastfmErrors.Inc()
			return nil, fmt.Errorf("day %s page %d: %w: %w", date.Format("2006-01-02"), page, ErrUpstreamUnavailable, err)
		}
		tracks = append(tracks, next...)
	}

	if len(tracks) > 0 && tracks[0].nowPlaying() {
		if !sameDate(date, c.now().UTC()) {
			tracks = tracks[1:]
		} else if len(tracks) > 1 && tracks[0].Name == tracks[1].Name {
			tracks = tracks[1:]
		}
	}

	scrobbles := make([]Scrobble, 0, len(tracks))
	for _, t := range tracks {
		scrobbles = append(scrobbles, toScrobble(t))
	}
	return scrobbles, nil
}

// ArtistTopTags fetches the ranked tag list for an artist.
func (c *Client) ArtistTopTags(ctx context.Context, artist string) ([]Tag, error) {
	params := url.Values{
		"artist":      {artist},
		"autocorrect": {"1"},
	}

	body, err := c.query(ctx, "artist.gettoptags", params)
	if err != nil {
		metrics.LastfmErrors.Inc()
		return nil, fmt.Errorf("fetching artist tags: %w", err)
	}

	var resp artistTagsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist tags response: %w", err)
	}
	tags := resp.TopTags.Tag
	if tags == nil {
		tags = []Tag{}
	}
	return tags, nil
}

// ScrobbleKeysSince returns the set of TrackKey values the listener has
// scrobbled since the given time. Pages after the first are fetched by a
// bounded worker pool.
func (c *Client) ScrobbleKeysSince(ctx context.Context, username string, since time.Time) (map[string]struct{}, error) {
	from := since.Unix()

	first, totalPages, err := c.recentTracksPage(ctx, username, from, 0, 1)
	if err != nil {
		metrics.LastfmErrors.Inc()
		return nil, fmt.Errorf("recent scrobbles: %w: %w", ErrUpstreamUnavailable, err)
	}

	keys := make(map[string]struct{})
	addPage := func(tracks trackList) {
		for _, t := range tracks {
			if t.nowPlaying() {
				continue
			}
			keys[TrackKey(t.Artist.Text, t.Name)] = struct{}{}
		}
	}
	addPage(first)

	if totalPages <= 1 {
		return keys, nil
	}

	pageCh := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageCh <- page
	}
	close(pageCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fetchErr error
	)
	workers := min(c.workers, totalPages-1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pageCh {
				tracks, _, err := c.recentTracksPage(ctx, username, from, 0, page)
				mu.Lock()
				if err != nil {
					if fetchErr == nil {
						fetchErr = err
					}
				} else {
					addPage(tracks)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fetchErr != nil {
		metrics.LastfmErrors.Inc()
		return nil, fmt.Errorf("recent scrobbles: %w: %w", ErrUpstreamUnavailable, fetchErr)
	}
	return keys, nil
}

// TrackKey is the canonical identity of an (artist, title) pair, used for
// the skip-recently-played exclusion set.
func TrackKey(artist, title string) string {
	return strings.ToLower(artist) + "\x00" + strings.ToLower(title)
}

// recentTracksPage fetches one page of user.getrecenttracks. A zero "to"
// leaves the range open-ended.
func (c *Client) recentTracksPage(ctx context.Context, username string, from, to int64, page int) (trackList, int, error) {
	params := url.Values{
		"user": {username},
		"from": {strconv.FormatInt(from, 10)},
		"page": {strconv.Itoa(page)},
	}
	if to > 0 {
		params.Set("to", strconv.FormatInt(to, 10))
	}

	body, err := c.query(ctx, "user.getrecenttracks", params)
	if err != nil {
		return nil, 0, err
	}

	var resp recentTracksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("parsing recent tracks response: %w", err)
	}

	totalPages, _ := strconv.Atoi(resp.RecentTracks.Attr.TotalPages)
	return resp.RecentTracks.Track, totalPages, nil
}

// query performs a GET request for the given API method, retrying transient
// failures per the client's policy.
func (c *Client) query(ctx context.Context, method string, params url.Values) ([]byte, error) {
	q := url.Values{
		"method":  {method},
		"api_key": {c.apiKey},
		"format":  {"json"},
		"limit":   {strconv.Itoa(pageLimit)},
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	reqURL := c.baseURL + "?" + q.Encode()

	var body []byte
	err := c.policy.Do(ctx, c.log, func() error {
		var err error
		body, err = c.doSingleRequest(ctx, reqURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doSingleRequest performs a single HTTP request and classifies failures.
func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if retry.IsTransientStatus(resp.StatusCode) {
		return nil, retry.Transient(resp.StatusCode, fmt.Errorf("last.fm returned %s", resp.Status))
	}

	// Check for API error in response
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
		switch apiErr.Code {
		case errCodeRateLimited:
			return nil, retry.Transient(http.StatusTooManyRequests, &apiErr)
		case errCodeInvalidAPIKey:
			return nil, ErrInvalidAPIKey
		default:
			return nil, &apiErr
		}
	}

	return body, nil
}

func (e *apiError) Error() string {
	return fmt.Sprintf("last.fm API error %d: %s", e.Code, e.Message)
}

func toScrobble(t recentTrack) Scrobble {
	s := Scrobble{
		Artist:     t.Artist.Text,
		Title:      t.Name,
		NowPlaying: t.nowPlaying(),
	}
	if uts, err := strconv.ParseInt(t.Date.UTS, 10, 64); err == nil {
		s.At = time.Unix(uts, 0).UTC()
	}
	return s
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
