package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
)

var (
	// ErrNoWatchSession is returned by Update and Complete when no watch session is open.
	// Nothing is sent.
	ErrNoWatchSession = errors.New("tracking: no watch session")
	// ErrWatchSessionClosed is returned by Update once the session was completed.
	ErrWatchSessionClosed = errors.New("tracking: watch session closed")
	// ErrWatchSessionReplaced is returned to callers whose queued update was discarded by Start.
	ErrWatchSessionReplaced = errors.New("tracking: watch session replaced")
	// ErrStartInFlight is returned when Start is called while another Start is running.
	ErrStartInFlight = errors.New("tracking: watch session start in flight")
)

// Progress is a differential watch update. Nil fields are not sent.
// A non-nil EndTime finalizes the session, like Complete.
type Progress struct {
	ActualTimeWatched *float64
	PercentageWatched *float64
	EndTime           *time.Time
	Events            []models.UserEvent
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Client          *Client
	Store           Store
	Sessions        SessionAccessor
	Auth            AuthState
	Metadata        models.UserMetadata
	EventBufferSize int
	// RequestTimeout bounds each update request; callers' contexts only bound their wait.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// batch is one pending PATCH. Updates that arrive while another request is in flight merge
// into the same batch.
type batch struct {
	id       string
	progress models.WatchProgress
	final    bool
	done     chan struct{}
	err      error
}

// Tracker owns one player's watch session. At most one session is open, and at most one
// update request is in flight at a time.
type Tracker struct {
	client   *Client
	store    Store
	sessions SessionAccessor
	auth     AuthState
	metadata models.UserMetadata
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	gen      uint64
	watchID  string
	mirror   *models.WatchSession
	events   *eventBuffer
	starting bool
	closing  bool
	closed   bool
	final    *batch
	next     *batch
	flushing bool
}

// NewTracker creates a tracker for one player instance.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tracker{
		client:   cfg.Client,
		store:    cfg.Store,
		sessions: cfg.Sessions,
		auth:     cfg.Auth,
		metadata: cfg.Metadata,
		timeout:  cfg.RequestTimeout,
		logger:   cfg.Logger,
		now:      time.Now,
		events:   newEventBuffer(cfg.EventBufferSize),
	}
}

// Start opens a new watch session for videoID. Any previous session id is dropped first,
// so a reload always starts a fresh session.
func (t *Tracker) Start(ctx context.Context, videoID string) (*models.WatchSession, error) {
	t.mu.Lock()
	if t.starting {
		t.mu.Unlock()
		return nil, ErrStartInFlight
	}
	t.starting = true
	t.gen++
	gen := t.gen
	if t.next != nil {
		t.next.err = ErrWatchSessionReplaced
		close(t.next.done)
		t.next = nil
	}
	t.watchID = ""
	t.mirror = nil
	t.closing, t.closed, t.final = false, false, nil
	t.events.reset()
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.starting = false
		t.mu.Unlock()
	}()

	if err := t.store.Remove(ctx, KeyWatchSessionID); err != nil {
		t.logger.Warn("clear watch session id", zap.Error(err))
	}

	req := CreateWatchSessionRequest{
		VideoID:             videoID,
		StartTime:           t.now().UTC(),
		IsGuestWatchSession: t.auth == nil || !t.auth.Authenticated(ctx),
		UserMetadata:        t.metadata,
	}
	if t.sessions != nil {
		req.UserSessionID = t.sessions.SessionID(ctx)
	}

	rec, err := t.client.CreateWatchSession(ctx, req)
	if err != nil {
		t.logger.Warn("start watch session failed", zap.String("video_id", videoID), zap.Error(err))
		return nil, err
	}
	id := rec.ID.String()
	if err := t.store.Set(ctx, KeyWatchSessionID, id); err != nil {
		t.logger.Warn("persist watch session id", zap.Error(err))
	}
	normalize(rec)

	t.mu.Lock()
	if gen == t.gen {
		t.watchID = id
		t.mirror = rec
	}
	t.mu.Unlock()

	t.logger.Info("watch session started",
		zap.String("watch_session_id", id),
		zap.String("video_id", videoID),
		zap.Bool("guest", req.IsGuestWatchSession),
	)
	return clone(rec), nil
}

// Update buffers p's events and sends the progress through the single-flight queue. It
// returns when the request carrying p has finished, or when ctx is done.
func (t *Tracker) Update(ctx context.Context, p Progress) error {
	t.mu.Lock()
	if t.watchID == "" {
		t.mu.Unlock()
		t.logger.Warn("update without watch session")
		return ErrNoWatchSession
	}
	if t.closed || t.closing {
		t.mu.Unlock()
		return ErrWatchSessionClosed
	}
	for _, ev := range p.Events {
		if t.events.add(ev) {
			t.logger.Warn("event buffer full, dropped oldest event", zap.Int("dropped", t.events.dropped))
		}
	}
	b := t.enqueueLocked(p, p.EndTime != nil)
	t.mu.Unlock()
	return wait(ctx, b)
}

// Complete finalizes the watch session with endTime=now. Once a completion succeeded,
// further calls return nil without a request.
func (t *Tracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	if t.watchID == "" {
		t.mu.Unlock()
		t.logger.Warn("complete without watch session")
		return ErrNoWatchSession
	}
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	b := t.final
	if b == nil {
		end := t.now().UTC()
		b = t.enqueueLocked(Progress{EndTime: &end}, true)
	}
	t.mu.Unlock()
	return wait(ctx, b)
}

// Current returns a copy of the in-memory mirror of the server record, or nil.
func (t *Tracker) Current() *models.WatchSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.mirror)
}

// WatchSessionID returns the open watch session id, or "".
func (t *Tracker) WatchSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watchID
}

// Closed reports whether the session was completed.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// PendingEvents returns events not yet acknowledged by the server, in emission order.
func (t *Tracker) PendingEvents() []models.UserEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	evs, _ := t.events.snapshot()
	return evs
}

// enqueueLocked merges p into the next batch and makes sure a flusher runs.
func (t *Tracker) enqueueLocked(p Progress, final bool) *batch {
	if t.next == nil {
		t.next = &batch{id: t.watchID, done: make(chan struct{})}
	}
	b := t.next
	if p.ActualTimeWatched != nil {
		v := *p.ActualTimeWatched
		b.progress.ActualTimeWatched = &v
	}
	if p.PercentageWatched != nil {
		v := *p.PercentageWatched
		b.progress.PercentageWatched = &v
	}
	if p.EndTime != nil {
		v := *p.EndTime
		b.progress.EndTime = &v
	}
	if final {
		b.final = true
		t.closing = true
		t.final = b
	}
	if !t.flushing {
		t.flushing = true
		go t.flush()
	}
	return b
}

// flush drains the queue one request at a time.
func (t *Tracker) flush() {
	for {
		t.mu.Lock()
		b := t.next
		if b == nil {
			t.flushing = false
			t.mu.Unlock()
			return
		}
		t.next = nil
		gen := t.gen
		events, lastSeq := t.events.snapshot()
		t.mu.Unlock()

		body := b.progress
		body.UserEvents = events

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		rec, err := t.client.UpdateWatchSession(ctx, b.id, body)
		cancel()

		t.mu.Lock()
		current := gen == t.gen
		finished := false
		if current {
			switch {
			case err == nil:
				t.events.ack(lastSeq)
				normalize(rec)
				t.mirror = rec
				if b.final {
					t.closed = true
					finished = true
				}
			case errors.Is(err, ErrConflict):
				// The server already finalized this session.
				t.closed = true
				t.closing = false
				t.final = nil
				finished = true
				if b.final {
					err = nil
				}
			default:
				if b.final {
					t.closing = false
					t.final = nil
				}
			}
		}
		t.mu.Unlock()

		if err != nil {
			t.logger.Warn("watch session update failed",
				zap.String("watch_session_id", b.id),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		if finished {
			if rmErr := t.store.Remove(context.Background(), KeyWatchSessionID); rmErr != nil {
				t.logger.Warn("clear watch session id", zap.Error(rmErr))
			}
			t.logger.Info("watch session completed", zap.String("watch_session_id", b.id))
		}
		b.err = err
		close(b.done)
	}
}

func wait(ctx context.Context, b *batch) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalize(w *models.WatchSession) {
	if w == nil {
		return
	}
	w.PercentageWatched = models.RoundPercent(w.PercentageWatched)
}

func clone(w *models.WatchSession) *models.WatchSession {
	if w == nil {
		return nil
	}
	c := *w
	c.UserEvents = append([]models.UserEvent(nil), w.UserEvents...)
	if w.EndTime != nil {
		end := *w.EndTime
		c.EndTime = &end
	}
	return &c
}
