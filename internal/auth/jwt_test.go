package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchtrack/internal/models"
)

func TestJWTService_RoundTrip(t *testing.T) {
	s := NewJWTService("secret", 1)
	id := uuid.New()

	tok, err := s.Generate(id, "a@example.com", models.RoleAdmin)
	require.NoError(t, err)

	claims, err := s.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestJWTService_Rejects(t *testing.T) {
	s := NewJWTService("secret", 1)
	tok, err := s.Generate(uuid.New(), "a@example.com", models.RoleViewer)
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := NewJWTService("secret", 1)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
