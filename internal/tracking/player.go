package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// DefaultTickInterval is the resolution of watched-time accounting.
const DefaultTickInterval = time.Second

// Percentage returns watched/duration as a percentage rounded to two decimals, clamped to
// [0, 100]. Unknown durations yield 0.
func Percentage(watched, duration float64) float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) || watched <= 0 {
		return 0
	}
	p := watched / duration * 100
	if p > 100 {
		p = 100
	}
	return models.RoundPercent(p)
}

// Engager marks the browsing session as having engaged with content.
type Engager interface {
	MarkContentEngaged(ctx context.Context) error
}

// PlaybackConfig configures a Playback.
type PlaybackConfig struct {
	Tracker      *Tracker
	VideoID      string
	TickInterval time.Duration
	// Engager, when set, is told about the first play of this playback.
	Engager Engager
	Logger  *zap.Logger
}

// Playback binds one media player's lifecycle callbacks to a Tracker. Watched time is
// accumulated by a ticker that only runs while the player is playing.
type Playback struct {
	tracker  *Tracker
	videoID  string
	interval time.Duration
	engager  Engager
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	watched  float64
	duration float64
	playing  bool
	started  bool
	engaged  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewPlayback creates a binding for one player instance.
func NewPlayback(cfg PlaybackConfig) *Playback {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Playback{
		tracker:  cfg.Tracker,
		videoID:  cfg.VideoID,
		interval: cfg.TickInterval,
		engager:  cfg.Engager,
		logger:   cfg.Logger.With(zap.String("video_id", cfg.VideoID)),
		now:      time.Now,
	}
}

// OnDuration records the media duration in seconds as reported by the player.
func (p *Playback) OnDuration(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duration = seconds
}

// OnStart opens the watch session. Only the first call has an effect.
func (p *Playback) OnStart(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if _, err := p.tracker.Start(ctx, p.videoID); err != nil {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return err
	}
	return nil
}

// OnPlay starts watched-time accounting and records a play event at videoTime.
func (p *Playback) OnPlay(ctx context.Context, videoTime float64) error {
	if err := p.OnStart(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.playing = true
	p.startTickerLocked()
	firstPlay := !p.engaged && p.engager != nil
	p.engaged = true
	p.mu.Unlock()

	if firstPlay {
		if err := p.engager.MarkContentEngaged(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			p.logger.Warn("mark content engaged", zap.Error(err))
		}
	}
	return p.push(ctx, p.event(models.EventPlay, videoTime))
}

// OnPause stops watched-time accounting and records a pause event.
func (p *Playback) OnPause(ctx context.Context, videoTime float64) error {
	p.halt()
	return p.push(ctx, p.event(models.EventPause, videoTime))
}

// OnSeek records a seek event carrying the seek target.
func (p *Playback) OnSeek(ctx context.Context, target float64) error {
	return p.push(ctx, p.event(models.EventSeek, target))
}

// OnProgress pushes the current watched time and percentage.
func (p *Playback) OnProgress(ctx context.Context) error {
	return p.push(ctx, nil)
}

// OnEnded pushes the final progress and completes the watch session.
func (p *Playback) OnEnded(ctx context.Context) error {
	p.halt()
	if err := p.push(ctx, nil); err != nil && !errors.Is(err, ErrWatchSessionClosed) {
		p.logger.Warn("final progress", zap.Error(err))
	}
	return p.tracker.Complete(ctx)
}

// Close is the unmount path: stop the ticker and complete the session if one was opened.
func (p *Playback) Close(ctx context.Context) error {
	p.halt()
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	err := p.tracker.Complete(ctx)
	if errors.Is(err, ErrNoWatchSession) {
		return nil
	}
	return err
}

// Watched returns the accumulated watched seconds.
func (p *Playback) Watched() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched
}

// Playing reports whether the ticker is accounting time.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Playback) event(kind models.EventType, videoTime float64) *models.UserEvent {
	return &models.UserEvent{Event: kind, EventTime: p.now().UTC(), VideoTime: videoTime}
}

func (p *Playback) push(ctx context.Context, ev *models.UserEvent) error {
	p.mu.Lock()
	watched := p.watched
	pct := Percentage(watched, p.duration)
	p.mu.Unlock()

	prog := Progress{ActualTimeWatched: &watched, PercentageWatched: &pct}
	if ev != nil {
		prog.Events = []models.UserEvent{*ev}
	}
	return p.tracker.Update(ctx, prog)
}

func (p *Playback) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.watched += p.interval.Seconds()
	}
}

func (p *Playback) startTickerLocked() {
	if p.stop != nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				p.tick()
			}
		}
	}()
}

// halt stops the ticker and waits for it to exit.
func (p *Playback) halt() {
	p.mu.Lock()
	p.playing = false
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
