package email

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmailNotConfigured(t *testing.T) {
	p := NewSMTP(Config{})
	err := p.SendEmail(context.Background(), "ops@example.com", "subject", "text", "<p>html</p>")
	assert.ErrorIs(t, err, ErrNotConfigured)

	var noop NoOpProvider
	assert.ErrorIs(t, noop.SendEmail(context.Background(), "a@b.c", "s", "t", ""), ErrNotConfigured)
}

func TestBuildMessageHasBothParts(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	msg, err := buildMessage("alerts@costwatch.dev", "ops@example.com", "Cost spike: TOTAL", "Spend jumped", "<p>Spend jumped</p>", now)
	require.NoError(t, err)

	body := string(msg)
	assert.Contains(t, body, "To: ops@example.com\r\n")
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "text/plain")
	assert.Contains(t, body, "text/html")
	assert.Contains(t, body, "<p>Spend jumped</p>")
	assert.True(t, strings.HasSuffix(body, "--\r\n"))
}

func TestBuildMessageSkipsEmptyHTML(t *testing.T) {
	msg, err := buildMessage("a@b.c", "d@e.f", "s", "only text", "", time.Unix(0, 0))
	require.NoError(t, err)
	assert.NotContains(t, string(msg), "text/html")
}
