package domain

import "context"

type WeeklyRequest struct {
	MaxUsers    int `json:"maxUsers"`
	Concurrency int `json:"concurrency"`
}

// Summary is one user's week-over-week TOTAL spend.
type Summary struct {
	UserID        string   `json:"user_id"`
	WeekOf        string   `json:"week_of"`
	FromDay       string   `json:"from_day"`
	ToDay         string   `json:"to_day"`
	Currency      string   `json:"currency"`
	CurrentSpend  float64  `json:"current_spend"`
	PreviousSpend float64  `json:"previous_spend"`
	// PctChange is nil when the previous week had no spend.
	PctChange     *float64 `json:"pct_change"`
	OpenAnomalies int      `json:"open_anomalies"`
}

type WeeklyResult struct {
	Skipped  bool     `json:"skipped"`
	Selected int      `json:"selected"`
	OptedIn  int      `json:"opted_in"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	Deduped  int      `json:"deduped"`
	Errors   []string `json:"errors,omitempty"`
}

type Service interface {
	// SendWeekly emails the weekly spend summary to every opted-in connected
	// user, at most once per user and week.
	SendWeekly(ctx context.Context, req WeeklyRequest) (WeeklyResult, error)
}
