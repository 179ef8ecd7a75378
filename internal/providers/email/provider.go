package email

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no SMTP relay is set up.
var ErrNotConfigured = errors.New("email channel not configured")

type Provider interface {
	SendEmail(ctx context.Context, to, subject, bodyText, bodyHTML string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendEmail(ctx context.Context, to, subject, bodyText, bodyHTML string) error {
	return ErrNotConfigured
}
