// Package main runs a headless player against a tracking server: it keeps a session alive,
// opens a watch session for one video, plays it for a while and reports progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/watchtrack/config"
	"github.com/aura-webinar/watchtrack/internal/tracking"
	"github.com/aura-webinar/watchtrack/pkg/redis"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type options struct {
	api      string
	videoID  string
	duration time.Duration
	watch    time.Duration
	progress time.Duration
	seekTo   time.Duration
	store    string
	state    string
	token    string
	remember bool
	ua       string
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	var opts options
	flag.StringVar(&opts.api, "api", cfg.Tracking.APIBaseURL, "Tracking API base URL")
	flag.StringVar(&opts.videoID, "video", "", "Video id to watch (required)")
	flag.DurationVar(&opts.duration, "duration", 10*time.Minute, "Media duration")
	flag.DurationVar(&opts.watch, "watch", 30*time.Second, "How long to play before stopping")
	flag.DurationVar(&opts.progress, "progress", 10*time.Second, "Progress report interval")
	flag.DurationVar(&opts.seekTo, "seek", 0, "Seek to this media position halfway through (0 disables)")
	flag.StringVar(&opts.store, "store", "file", "Persistence backend: memory, file or redis")
	flag.StringVar(&opts.state, "state", cfg.Tracking.StateFile, "State file for -store=file")
	flag.StringVar(&opts.token, "token", "", "Bearer token; empty watches as a guest")
	flag.BoolVar(&opts.remember, "remember", false, "Keep the token in the durable store")
	flag.StringVar(&opts.ua, "ua", defaultUserAgent, "User agent reported in watch metadata")
	flag.Parse()

	if opts.videoID == "" {
		fmt.Fprintln(os.Stderr, "watchsim: -video is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	durable, closeStore, err := openStore(ctx, cfg, opts)
	if err != nil {
		logger.Fatal("open store", zap.String("store", opts.store), zap.Error(err))
	}
	defer closeStore()

	if err := run(ctx, cfg.Tracking, opts, durable, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("watch", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, opts options) (tracking.Store, func(), error) {
	switch opts.store {
	case "memory":
		return tracking.NewMemoryStore(), func() {}, nil
	case "file":
		path := opts.state
		if path == "" {
			path = "watchsim-state.json"
		}
		s, err := tracking.OpenFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "redis":
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, nil)
		if err != nil {
			return nil, nil, err
		}
		return tracking.NewRedisStore(rdb.Client, "watchsim:"), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", opts.store)
	}
}

func run(ctx context.Context, cfg config.TrackingConfig, opts options, durable tracking.Store, logger *zap.Logger) error {
	auth := tracking.NewAuthStore(durable, tracking.NewMemoryStore(), logger)
	if opts.token != "" {
		if err := auth.Save(ctx, tracking.Credentials{Token: opts.token, Remember: opts.remember}); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	auth.OnSignOut(func() { logger.Warn("signed out after session expiry") })

	client := tracking.NewClient(opts.api, cfg.HTTPTimeout, auth)
	sessions := tracking.NewSessionManager(tracking.SessionConfig{
		Client:            client,
		Store:             durable,
		Auth:              auth,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RequestTimeout:    cfg.HTTPTimeout,
		Logger:            logger,
	})
	if err := sessions.StartGuestHeartbeat(ctx); err != nil {
		logger.Warn("no session, watching untracked by session", zap.Error(err))
	}
	defer sessions.StopHeartbeat()

	tracker := tracking.NewTracker(tracking.TrackerConfig{
		Client:          client,
		Store:           durable,
		Sessions:        sessions,
		Auth:            auth,
		Metadata:        tracking.CaptureMetadata(opts.ua),
		EventBufferSize: cfg.EventBufferSize,
		RequestTimeout:  cfg.HTTPTimeout,
		Logger:          logger,
	})
	playback := tracking.NewPlayback(tracking.PlaybackConfig{
		Tracker:      tracker,
		VideoID:      opts.videoID,
		TickInterval: cfg.TickInterval,
		Engager:      sessions,
		Logger:       logger,
	})
	playback.OnDuration(opts.duration.Seconds())

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		if err := playback.Close(closeCtx); err != nil {
			logger.Warn("close playback", zap.Error(err))
		}
		if w := tracker.Current(); w != nil {
			logger.Info("watch summary",
				zap.String("watch_session_id", w.ID.String()),
				zap.Float64("actual_time_watched", w.ActualTimeWatched),
				zap.Float64("percentage_watched", w.PercentageWatched),
				zap.Int("events", len(w.UserEvents)),
				zap.Bool("completed", w.EndTime != nil),
			)
		}
	}()

	if err := playback.OnPlay(ctx, 0); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	var (
		base     float64 // media position at the last seek
		baseSeen float64 // watched seconds at the last seek
		seeked   = opts.seekTo <= 0
	)
	position := func() float64 { return base + playback.Watched() - baseSeen }

	progress := time.NewTicker(opts.progress)
	defer progress.Stop()
	deadline := time.NewTimer(opts.watch)
	defer deadline.Stop()
	halfway := time.After(opts.watch / 2)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-progress.C:
			if position() >= opts.duration.Seconds() {
				return playback.OnEnded(ctx)
			}
			if err := playback.OnProgress(ctx); err != nil {
				logger.Warn("progress", zap.Error(err))
			}
		case <-halfway:
			if seeked {
				continue
			}
			seeked = true
			at := position()
			if err := playback.OnPause(ctx, at); err != nil {
				logger.Warn("pause", zap.Error(err))
			}
			target := opts.seekTo.Seconds()
			if err := playback.OnSeek(ctx, target); err != nil {
				logger.Warn("seek", zap.Error(err))
			}
			base, baseSeen = target, playback.Watched()
			if err := playback.OnPlay(ctx, target); err != nil {
				logger.Warn("resume", zap.Error(err))
			}
		case <-deadline.C:
			if position() >= opts.duration.Seconds() {
				return playback.OnEnded(ctx)
			}
			return playback.OnPause(ctx, position())
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
