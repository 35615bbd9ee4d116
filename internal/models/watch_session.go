package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EventType is a discrete playback event.
type EventType string

const (
	EventPlay  EventType = "play"
	EventPause EventType = "pause"
	EventSeek  EventType = "seek"
)

// Valid reports whether t is a known playback event.
func (t EventType) Valid() bool {
	switch t {
	case EventPlay, EventPause, EventSeek:
		return true
	}
	return false
}

// UserEvent is one entry of a watch session's event log. For seek, VideoTime is the target.
type UserEvent struct {
	Event     EventType `json:"event" binding:"required,oneof=play pause seek"`
	EventTime time.Time `json:"eventTime" binding:"required"`
	VideoTime float64   `json:"videoTime" binding:"min=0"`
}

// UserMetadata describes the client a watch session was started from.
type UserMetadata struct {
	UserAgent  string `json:"userAgent"`
	Device     string `json:"device"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"deviceType"`
}

// WatchSession is one continuous viewing attempt of one video.
type WatchSession struct {
	ID                  uuid.UUID    `json:"id"`
	VideoID             string       `json:"videoId"`
	UserID              *uuid.UUID   `json:"userId,omitempty"`
	UserSessionID       *uuid.UUID   `json:"userSessionId,omitempty"`
	IsGuestWatchSession bool         `json:"isGuestWatchSession"`
	StartTime           time.Time    `json:"startTime"`
	EndTime             *time.Time   `json:"endTime,omitempty"`
	ActualTimeWatched   float64      `json:"actualTimeWatched"`
	PercentageWatched   float64      `json:"percentageWatched"`
	UserEvents          []UserEvent  `json:"userEvent"`
	UserMetadata        UserMetadata `json:"userMetadata"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Finalized reports whether the session has an end time.
func (w *WatchSession) Finalized() bool {
	return w.EndTime != nil
}

// WatchProgress is a partial update of a watch session. Nil fields are left untouched.
type WatchProgress struct {
	ActualTimeWatched *float64    `json:"actualTimeWatched,omitempty" binding:"omitempty,min=0"`
	PercentageWatched *float64    `json:"percentageWatched,omitempty" binding:"omitempty,min=0,max=100"`
	EndTime           *time.Time  `json:"endTime,omitempty"`
	UserEvents        []UserEvent `json:"userEvent,omitempty" binding:"omitempty,dive"`
}

// RoundPercent rounds a percentage to two decimal places.
func RoundPercent(p float64) float64 {
	return math.Round(p*100) / 100
}
