package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/costwatch/internal/providers/billing"
)

type ConnectRequest struct {
	UserID      string
	Credentials billing.Credentials
}

type Service interface {
	// Connect validates credentials against the provider before storing them.
	Connect(ctx context.Context, req ConnectRequest) (Connection, error)
	Get(ctx context.Context, userID string) (Connection, error)
}

var (
	ErrInvalidUserID      = errors.New("invalid_user_id")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrNotFound           = errors.New("not_found")
)
