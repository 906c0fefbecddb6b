// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Validation errors.
var (
	ErrMissingLastfmKey          = errors.New("LASTFM_API_KEY must be set")
	ErrMissingSpotifyCredentials = errors.New("SPOTIFY_ID and SPOTIFY_SECRET must be set")
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Host is the externally reachable base URL, used for the Spotify
	// OAuth redirect (e.g. https://lasthop.example.com).
	Host string `env:"HOST" envDefault:"http://127.0.0.1:8080"`

	// Document store (PostgreSQL). Empty falls back to the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	// Search-result cache (Redis). Empty falls back to the in-memory cache.
	RedisURL string `env:"REDIS_URL"`

	// External API credentials
	LastfmAPIKey  string `env:"LASTFM_API_KEY"`
	SpotifyID     string `env:"SPOTIFY_ID"`
	SpotifySecret string `env:"SPOTIFY_SECRET"`

	// Playlist policy
	MaxPlaylistLength    int `env:"MAX_PLAYLIST_LENGTH" envDefault:"120"`
	TracksPerYear        int `env:"PLAYLIST_TRACKS_PER_YEAR" envDefault:"5"`
	PlaylistAddBatchSize int `env:"PLAYLIST_ADD_BATCH_LIMIT" envDefault:"100"`

	// Last.fm fetch tuning
	RecentTracksWorkers int `env:"RECENT_TRACKS_WORKERS" envDefault:"20"`

	// Search cache freshness
	SearchCacheMaxAge time.Duration `env:"SEARCH_CACHE_MAX_AGE" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server timeouts
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.LastfmAPIKey == "" {
		return ErrMissingLastfmKey
	}
	if c.SpotifyID == "" || c.SpotifySecret == "" {
		return ErrMissingSpotifyCredentials
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
