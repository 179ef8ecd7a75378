package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Credentials are the decrypted access keys for one billing account.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region,omitempty"`
}

func (c Credentials) Valid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Row is one provider observation. Date uses the 2006-01-02 layout.
type Row struct {
	Date      string
	Dimension string
	Amount    float64
	Currency  string
}

type Provider interface {
	// FetchDailyCosts returns daily rows for [start, endExclusive).
	FetchDailyCosts(ctx context.Context, creds Credentials, start, endExclusive string) ([]Row, error)
	// Ping runs a single-day fetch to validate credentials.
	Ping(ctx context.Context, creds Credentials) error
}

type ErrorCode string

const (
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeAccessDenied       ErrorCode = "ACCESS_DENIED"
	CodeThrottled          ErrorCode = "THROTTLED"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
)

// Terminal reports whether the code means the stored credential is unusable.
func (c ErrorCode) Terminal() bool {
	return c == CodeInvalidCredentials || c == CodeAccessDenied
}

// Error is the typed failure every Provider returns.
type Error struct {
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsError normalizes any provider failure into an *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Code: CodeProviderError, Message: err.Error()}
}
