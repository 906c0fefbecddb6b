// Command lasthop serves "on this day" Last.fm listening history and
// builds anniversary Spotify playlists from it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lasthop/lasthop/internal/config"
	"github.com/lasthop/lasthop/internal/docstore"
	"github.com/lasthop/lasthop/internal/history"
	"github.com/lasthop/lasthop/internal/lastfm"
	"github.com/lasthop/lasthop/internal/playlist"
	"github.com/lasthop/lasthop/internal/spotify"
	"github.com/lasthop/lasthop/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lasthop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	searchCache, err := newSearchCache(cfg, logger)
	if err != nil {
		return err
	}

	lastfmClient := lastfm.NewClient(lastfm.Config{
		APIKey:  cfg.LastfmAPIKey,
		Workers: cfg.RecentTracksWorkers,
		Logger:  logger,
	})

	historyService := history.NewService(lastfmClient, store, logger)
	builder := playlist.NewBuilder(lastfmClient, cfg.MaxPlaylistLength, logger)

	server := web.NewServer(web.ServerConfig{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Host:         cfg.Host,
		ClientID:     cfg.SpotifyID,
		ClientSecret: cfg.SpotifySecret,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		History:      historyService,
		Builder:      builder,
		SearchCache:  searchCache,
		SpotifyCfg: spotify.Config{
			BatchLimit:  cfg.PlaylistAddBatchSize,
			CacheMaxAge: cfg.SearchCacheMaxAge,
			Logger:      logger,
		},
		TracksPerYear: cfg.TracksPerYear,
		Logger:        logger,
	})

	logger.Info().Int("port", cfg.Port).Str("env", cfg.AppEnv).Msg("starting lasthop")
	return server.Run()
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parsing LOG_LEVEL: %w", err)
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger(), nil
}

// newStore connects Postgres when configured and falls back to the
// in-memory store otherwise. The memory store loses cached stats on
// restart, which only costs a refetch.
func newStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (docstore.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory document store")
		return docstore.NewMemory(), nil
	}
	store, err := docstore.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting document store: %w", err)
	}
	logger.Info().Msg("document store connected")
	return store, nil
}

func newSearchCache(cfg *config.Config, logger zerolog.Logger) (spotify.SearchCache, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, using in-memory search cache")
		return spotify.NewMemoryCache(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	logger.Info().Msg("search cache on redis")
	return spotify.NewRedisCache(redis.NewClient(opts)), nil
}
