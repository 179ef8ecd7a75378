package domain

import (
	"errors"
	"fmt"
	"time"

	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
)

type ErrorCode string

const (
	CodeNotConnected       ErrorCode = "NOT_CONNECTED"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeAccessDenied       ErrorCode = "ACCESS_DENIED"
	CodeThrottled          ErrorCode = "THROTTLED"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeTooSoon            ErrorCode = "TOO_SOON"
	CodeInvalidWindow      ErrorCode = "INVALID_WINDOW"
	CodeStorageError       ErrorCode = "STORAGE_ERROR"
)

const (
	MinWindowDays = 7
	MaxWindowDays = 90
)

// SyncError is the structured failure returned to cron summaries and manual
// triggers. RetryAfter is set for THROTTLED and TOO_SOON.
type SyncError struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *SyncError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later without user action.
func (e *SyncError) Retryable() bool {
	switch e.Code {
	case CodeThrottled, CodeProviderError, CodeTooSoon, CodeStorageError:
		return true
	default:
		return false
	}
}

func AsSyncError(err error) (*SyncError, bool) {
	var serr *SyncError
	if errors.As(err, &serr) {
		return serr, true
	}
	return nil, false
}

type SyncRequest struct {
	UserID string
	// WindowDays defaults to the configured window when zero.
	WindowDays int
}

type SyncResult struct {
	UserID        string                            `json:"user_id"`
	WindowDays    int                               `json:"window_days"`
	FromDay       string                            `json:"from_day"`
	ToDay         string                            `json:"to_day"`
	Dimensions    []string                          `json:"dimensions"`
	PointsWritten int                               `json:"points_written"`
	Anomalies     int                               `json:"anomalies"`
	Notifications notificationdomain.DispatchResult `json:"notifications"`
	Warnings      []string                          `json:"warnings,omitempty"`
	SyncedAt      time.Time                         `json:"synced_at"`
}

type BatchRequest struct {
	MaxUsers              int `json:"maxUsers"`
	MinHoursSinceLastSync int `json:"minHoursSinceLastSync"`
	Concurrency           int `json:"concurrency"`
}

type UserOutcome struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Code      ErrorCode `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Anomalies int       `json:"anomalies"`
	Warnings  []string  `json:"warnings,omitempty"`
}

const (
	UserStatusSynced  = "synced"
	UserStatusPartial = "partial"
	UserStatusFailed  = "failed"
)

// BatchResult summarizes one auto-sync run. Skipped is true when another
// invocation held the run lock.
type BatchResult struct {
	Skipped   bool          `json:"skipped"`
	Selected  int           `json:"selected"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Users     []UserOutcome `json:"users,omitempty"`
}
