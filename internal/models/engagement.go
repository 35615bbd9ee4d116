package models

import "time"

// CompletionThreshold is the percentage from which a view counts as completed.
const CompletionThreshold = 90.0

// VideoEngagement holds aggregated watch statistics per video, folded by the worker.
type VideoEngagement struct {
	VideoID               string    `json:"videoId"`
	Views                 int64     `json:"views"`
	GuestViews            int64     `json:"guestViews"`
	Completions           int64     `json:"completions"`
	TotalWatchSeconds     float64   `json:"totalWatchSeconds"`
	AvgWatchSeconds       float64   `json:"avgWatchSeconds"`
	AvgPercentageWatched  float64   `json:"avgPercentageWatched"`
	CompletionRatePercent float64   `json:"completionRatePercent"`
	UpdatedAt             time.Time `json:"updatedAt"`
}
