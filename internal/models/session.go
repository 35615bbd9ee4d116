package models

import (
	"time"

	"github.com/google/uuid"
)

// UserSession is a browsing session, independent of login state.
type UserSession struct {
	ID             uuid.UUID  `json:"sessionId"`
	UserID         *uuid.UUID `json:"userId,omitempty"`
	IsGuest        bool       `json:"isGuest"`
	ContentEngaged bool       `json:"contentEngaged"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	// RotatedTo is set when a heartbeat replaced this session with a fresh one.
	RotatedTo *uuid.UUID `json:"rotatedTo,omitempty"`
}

// HeartbeatStatus is the liveness verdict returned by a session heartbeat.
type HeartbeatStatus string

const (
	HeartbeatActive  HeartbeatStatus = "active"
	HeartbeatRenewed HeartbeatStatus = "renewed"
	HeartbeatExpired HeartbeatStatus = "expired"
)

// HeartbeatResult is the body of POST /sessions/:id/heartbeat.
type HeartbeatResult struct {
	Status          HeartbeatStatus `json:"status"`
	NeedsNewSession bool            `json:"needsNewSession"`
	SessionID       string          `json:"sessionId,omitempty"`
}

// ExpiredHeartbeat is the terminal result used when no session is known or the check failed.
func ExpiredHeartbeat() HeartbeatResult {
	return HeartbeatResult{Status: HeartbeatExpired, NeedsNewSession: true}
}
