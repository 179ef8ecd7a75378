package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type       string            `json:"type"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	RetryAfter int               `json:"retry_after,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if payload.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(payload.RetryAfter))
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// rateLimitedError carries the retry hint from the token bucket.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string { return ErrRateLimited.Error() }

func (e *rateLimitedError) Unwrap() error { return ErrRateLimited }

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if serr, ok := costsyncdomain.AsSyncError(err); ok {
		return mapSyncError(serr)
	}

	var perr *billing.Error
	if errors.As(err, &perr) {
		return mapSyncError(&costsyncdomain.SyncError{
			Code:       costsyncdomain.ErrorCode(perr.Code),
			Message:    billing.MessageFor(perr.Code),
			RetryAfter: perr.RetryAfter,
		})
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var rlErr *rateLimitedError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.As(err, &rlErr), errors.Is(err, ErrRateLimited):
		retry := 1
		if rlErr != nil {
			retry = retryAfterSeconds(rlErr.retryAfter)
		}
		return http.StatusTooManyRequests, errorPayload{
			Type:       "rate_limited",
			Message:    "too many sync requests",
			RetryAfter: retry,
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func mapSyncError(serr *costsyncdomain.SyncError) (int, errorPayload) {
	payload := errorPayload{
		Type:    strings.ToLower(string(serr.Code)),
		Code:    string(serr.Code),
		Message: serr.Message,
	}
	if payload.Message == "" {
		payload.Message = strings.ToLower(strings.ReplaceAll(string(serr.Code), "_", " "))
	}

	switch serr.Code {
	case costsyncdomain.CodeInvalidWindow:
		return http.StatusBadRequest, payload
	case costsyncdomain.CodeNotConnected:
		return http.StatusConflict, payload
	case costsyncdomain.CodeInvalidCredentials, costsyncdomain.CodeAccessDenied:
		return http.StatusUnprocessableEntity, payload
	case costsyncdomain.CodeTooSoon, costsyncdomain.CodeThrottled:
		payload.RetryAfter = retryAfterSeconds(serr.RetryAfter)
		return http.StatusTooManyRequests, payload
	case costsyncdomain.CodeProviderError:
		return http.StatusBadGateway, payload
	case costsyncdomain.CodeStorageError:
		return http.StatusServiceUnavailable, payload
	default:
		return http.StatusInternalServerError, payload
	}
}

// classifyErrorForLog yields the (type, code) pair attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, connectiondomain.ErrInvalidUserID),
		errors.Is(err, connectiondomain.ErrInvalidCredentials):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, connectiondomain.ErrNotFound),
		errors.Is(err, anomalydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, connectiondomain.ErrInvalidUserID):
		return connectiondomain.ErrInvalidUserID.Error()
	case errors.Is(err, connectiondomain.ErrInvalidCredentials):
		return connectiondomain.ErrInvalidCredentials.Error()
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
