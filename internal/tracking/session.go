package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// DefaultHeartbeatInterval is how often a live session is renewed.
const DefaultHeartbeatInterval = 5 * time.Minute

// ErrNoSession is returned when an operation needs a session id and none is persisted.
var ErrNoSession = errors.New("tracking: no session")

// SessionAccessor exposes the current session id to the watch tracker.
type SessionAccessor interface {
	SessionID(ctx context.Context) string
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	Client            *Client
	Store             Store
	Auth              AuthState
	HeartbeatInterval time.Duration
	// RequestTimeout bounds each heartbeat request issued by the loop.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// SessionManager keeps a guest or authenticated session id alive.
type SessionManager struct {
	client   *Client
	store    Store
	auth     AuthState
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	engaged string // session id already marked as engaged
}

// NewSessionManager creates a session manager. Construct one per application root.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SessionManager{
		client:   cfg.Client,
		store:    cfg.Store,
		auth:     cfg.Auth,
		interval: cfg.HeartbeatInterval,
		timeout:  cfg.RequestTimeout,
		logger:   cfg.Logger,
	}
}

// SessionID returns the persisted session id, or "" when there is none.
func (m *SessionManager) SessionID(ctx context.Context) string {
	id, ok, err := m.store.Get(ctx, KeySessionID)
	if err != nil {
		m.logger.Warn("read session id", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return id
}

// CreateGuestSession generates and registers a guest session id and persists it on success.
func (m *SessionManager) CreateGuestSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := m.client.CreateSession(ctx, id); err != nil {
		m.logger.Warn("create guest session failed", zap.Error(err))
		return "", err
	}
	if err := m.store.Set(ctx, KeySessionID, id); err != nil {
		m.logger.Warn("persist guest session failed", zap.Error(err))
		return "", err
	}
	m.logger.Info("guest session created", zap.String("session_id", id))
	return id, nil
}

// AdoptSession persists a session id handed over by the authentication subsystem.
func (m *SessionManager) AdoptSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return err
	}
	return m.store.Set(ctx, KeySessionID, id)
}

// Heartbeat checks the current session against the backend. Without a local id it returns
// expired without a request. Any failure also yields expired, together with the error.
func (m *SessionManager) Heartbeat(ctx context.Context) (models.HeartbeatResult, error) {
	id := m.SessionID(ctx)
	if id == "" {
		return models.ExpiredHeartbeat(), nil
	}
	res, err := m.client.Heartbeat(ctx, id)
	if err != nil {
		m.logger.Warn("heartbeat failed", zap.String("session_id", id), zap.Error(err))
		return models.ExpiredHeartbeat(), err
	}
	return res, nil
}

// StartHeartbeat starts the renewal loop. It is a no-op when the loop already runs.
func (m *SessionManager) StartHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.loop(ctx, done)
	m.logger.Debug("heartbeat started", zap.Duration("interval", m.interval))
}

// StartGuestHeartbeat ensures a session exists, creating a guest one when needed,
// and starts the loop only when that succeeded.
func (m *SessionManager) StartGuestHeartbeat(ctx context.Context) error {
	if m.SessionID(ctx) == "" {
		if _, err := m.CreateGuestSession(ctx); err != nil {
			return err
		}
	}
	m.StartHeartbeat()
	return nil
}

// StopHeartbeat cancels the loop and waits for it to exit. Idempotent.
func (m *SessionManager) StopHeartbeat() {
	done := m.halt()
	if done != nil {
		<-done
	}
}

// Running reports whether the heartbeat loop is active.
func (m *SessionManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// MarkContentEngaged tells the backend this session interacted with content, once per session.
func (m *SessionManager) MarkContentEngaged(ctx context.Context) error {
	id := m.SessionID(ctx)
	if id == "" {
		return ErrNoSession
	}
	m.mu.Lock()
	already := m.engaged == id
	m.mu.Unlock()
	if already {
		return nil
	}
	if err := m.client.MarkContentEngaged(ctx, id); err != nil {
		m.logger.Warn("mark content engaged failed", zap.String("session_id", id), zap.Error(err))
		return err
	}
	m.mu.Lock()
	m.engaged = id
	m.mu.Unlock()
	return nil
}

// halt cancels the loop without waiting. It returns the loop's done channel, or nil when
// nothing was running.
func (m *SessionManager) halt() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	done := m.done
	m.cancel, m.done = nil, nil
	return done
}

func (m *SessionManager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one heartbeat and applies its result. It returns false when the loop must end.
func (m *SessionManager) tick(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	res, err := m.Heartbeat(reqCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		// Transient failure: only a server-confirmed expiry tears the session down.
		// The next tick is the retry.
		return true
	}

	switch res.Status {
	case models.HeartbeatRenewed:
		if res.SessionID != "" {
			if err := m.store.Set(ctx, KeySessionID, res.SessionID); err != nil {
				m.logger.Warn("persist renewed session", zap.Error(err))
			}
			m.logger.Info("session renewed", zap.String("session_id", res.SessionID))
		}
		return true
	case models.HeartbeatExpired:
		if !res.NeedsNewSession {
			return true
		}
		m.expire()
		return false
	default:
		return true
	}
}

// expire stops the loop first, then tears down the session: sign-out for authenticated users,
// clearing the guest id otherwise.
func (m *SessionManager) expire() {
	m.halt()
	ctx := context.Background()
	if m.auth != nil && m.auth.HasCredentials(ctx) {
		m.logger.Info("session expired, signing out")
		if err := m.auth.SignOut(ctx); err != nil {
			m.logger.Warn("sign out", zap.Error(err))
		}
		return
	}
	m.logger.Info("guest session expired")
	if err := m.store.Remove(ctx, KeySessionID); err != nil {
		m.logger.Warn("clear guest session", zap.Error(err))
	}
}
