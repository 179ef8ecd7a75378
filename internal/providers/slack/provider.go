package slack

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("slack channel not configured")
	ErrNotOptedIn    = errors.New("slack recipient not opted in")
	ErrQuotaExceeded = errors.New("slack quota exceeded")
)

type Provider interface {
	SendInstantMessage(ctx context.Context, to string, text string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendInstantMessage(ctx context.Context, to string, text string) error {
	return ErrNotConfigured
}
