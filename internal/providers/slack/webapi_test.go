package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendInstantMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "C123", body["channel"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	api := NewWebAPI("xoxb-test", srv.URL)
	assert.NoError(t, api.SendInstantMessage(context.Background(), "C123", "spend spike"))
}

func TestSendInstantMessageSoftFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "channel missing", status: http.StatusOK, body: `{"ok":false,"error":"channel_not_found"}`, want: ErrNotOptedIn},
		{name: "rate limited body", status: http.StatusOK, body: `{"ok":false,"error":"ratelimited"}`, want: ErrQuotaExceeded},
		{name: "rate limited status", status: http.StatusTooManyRequests, body: ``, want: ErrQuotaExceeded},
		{name: "bad token", status: http.StatusOK, body: `{"ok":false,"error":"invalid_auth"}`, want: ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewWebAPI("xoxb-test", srv.URL).SendInstantMessage(context.Background(), "C123", "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSendInstantMessageWithoutToken(t *testing.T) {
	err := NewWebAPI("", "").SendInstantMessage(context.Background(), "C123", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
