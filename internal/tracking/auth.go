package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchtrack/internal/models"
)

// Credentials is the serialized auth blob: the bearer token plus the remembered user.
type Credentials struct {
	Token    string                `json:"token"`
	User     models.RememberedUser `json:"user"`
	Remember bool                  `json:"remember"`
}

// AuthState is what tracking needs to know about sign-in.
type AuthState interface {
	// HasCredentials reports whether an auth blob is present, usable or not.
	HasCredentials(ctx context.Context) bool
	// Authenticated reports whether the credentials are present and unexpired.
	Authenticated(ctx context.Context) bool
	SignOut(ctx context.Context) error
}

// TokenSource supplies the bearer token for API requests; empty means anonymous.
type TokenSource interface {
	Token(ctx context.Context) string
}

// AuthStore owns the auth blob. Remembered credentials go to the durable store,
// the rest to the volatile one, so "remember me" actually survives restarts only when asked.
type AuthStore struct {
	durable  Store
	volatile Store
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	listeners []func()
}

// NewAuthStore creates an auth store. volatile may be nil, in which case a MemoryStore is used.
func NewAuthStore(durable, volatile Store, logger *zap.Logger) *AuthStore {
	if volatile == nil {
		volatile = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthStore{durable: durable, volatile: volatile, logger: logger, now: time.Now}
}

// Save stores credentials and removes any copy from the other backend.
func (a *AuthStore) Save(ctx context.Context, c Credentials) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	target, other := a.volatile, a.durable
	if c.Remember {
		target, other = a.durable, a.volatile
	}
	if err := target.Set(ctx, KeyAuth, string(raw)); err != nil {
		return err
	}
	return other.Remove(ctx, KeyAuth)
}

// Load returns the stored credentials, volatile first.
func (a *AuthStore) Load(ctx context.Context) (*Credentials, error) {
	for _, s := range []Store{a.volatile, a.durable} {
		raw, ok, err := s.Get(ctx, KeyAuth)
		if err != nil {
			return nil, err
		}
		if !ok || raw == "" {
			continue
		}
		var c Credentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode credentials: %w", err)
		}
		return &c, nil
	}
	return nil, nil
}

// HasCredentials reports whether a token is stored.
func (a *AuthStore) HasCredentials(ctx context.Context) bool {
	c, err := a.Load(ctx)
	if err != nil {
		a.logger.Warn("load credentials", zap.Error(err))
		return false
	}
	return c != nil && c.Token != ""
}

// Authenticated reports whether usable credentials are present.
func (a *AuthStore) Authenticated(ctx context.Context) bool {
	c, err := a.Load(ctx)
	if err != nil {
		a.logger.Warn("load credentials", zap.Error(err))
		return false
	}
	if c == nil || c.Token == "" {
		return false
	}
	return !tokenExpired(c.Token, a.now())
}

// Token implements TokenSource.
func (a *AuthStore) Token(ctx context.Context) string {
	c, err := a.Load(ctx)
	if err != nil || c == nil {
		return ""
	}
	return c.Token
}

// OnSignOut registers fn to run after every sign-out.
func (a *AuthStore) OnSignOut(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// SignOut clears the auth blob from both backends and dispatches the logout event.
func (a *AuthStore) SignOut(ctx context.Context) error {
	errV := a.volatile.Remove(ctx, KeyAuth)
	errD := a.durable.Remove(ctx, KeyAuth)
	a.mu.Lock()
	listeners := append([]func(){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
	a.logger.Info("signed out")
	return errors.Join(errV, errD)
}

// tokenExpired reads exp without verifying the signature; the server does that.
// Tokens that are not JWTs, or carry no exp, never expire locally.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
