package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/costwatch/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	return NewWebAPI(cfg.Slack.BotToken, cfg.Slack.APIURL)
}

// WebAPI posts messages with chat.postMessage.
type WebAPI struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewWebAPI(token, baseURL string) *WebAPI {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &WebAPI{
		token:   strings.TrimSpace(token),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

var notOptedInErrors = map[string]bool{
	"channel_not_found": true,
	"not_in_channel":    true,
	"user_not_found":    true,
	"is_archived":       true,
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *WebAPI) SendInstantMessage(ctx context.Context, to string, text string) error {
	if s.token == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(to) == "" {
		return ErrNotOptedIn
	}

	body, err := json.Marshal(map[string]any{
		"channel":      to,
		"text":         text,
		"unfurl_links": false,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrQuotaExceeded
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack post message: unexpected status %d", resp.StatusCode)
	}

	var payload postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("slack decode response: %w", err)
	}
	if payload.OK {
		return nil
	}
	switch {
	case notOptedInErrors[payload.Error]:
		return fmt.Errorf("%w: %s", ErrNotOptedIn, payload.Error)
	case payload.Error == "ratelimited":
		return ErrQuotaExceeded
	case payload.Error == "not_authed" || payload.Error == "invalid_auth" || payload.Error == "token_revoked":
		return fmt.Errorf("%w: %s", ErrNotConfigured, payload.Error)
	default:
		return fmt.Errorf("slack post message: %s", payload.Error)
	}
}
