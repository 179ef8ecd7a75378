package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	anomalyrepository "github.com/smallbiznis/costwatch/internal/anomaly/repository"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	notificationrepository "github.com/smallbiznis/costwatch/internal/notification/repository"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"github.com/smallbiznis/costwatch/internal/ratelimit"
	reportdomain "github.com/smallbiznis/costwatch/internal/report/domain"
	"github.com/smallbiznis/costwatch/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "cron-secret"

type fakeConnections struct {
	conn connectiondomain.Connection
	err  error
	last connectiondomain.ConnectRequest
}

func (f *fakeConnections) Connect(ctx context.Context, req connectiondomain.ConnectRequest) (connectiondomain.Connection, error) {
	f.last = req
	if f.err != nil {
		return connectiondomain.Connection{}, f.err
	}
	return f.conn, nil
}

func (f *fakeConnections) Get(ctx context.Context, userID string) (connectiondomain.Connection, error) {
	if f.err != nil {
		return connectiondomain.Connection{}, f.err
	}
	return f.conn, nil
}

type fakeSync struct {
	mu       sync.Mutex
	calls    int
	last     costsyncdomain.SyncRequest
	err      error
	batch    costsyncdomain.BatchResult
	batchReq costsyncdomain.BatchRequest
}

func (f *fakeSync) Sync(ctx context.Context, req costsyncdomain.SyncRequest) (costsyncdomain.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return costsyncdomain.SyncResult{}, f.err
	}
	return costsyncdomain.SyncResult{UserID: req.UserID, WindowDays: req.WindowDays}, nil
}

func (f *fakeSync) SyncDue(ctx context.Context, req costsyncdomain.BatchRequest) (costsyncdomain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchReq = req
	return f.batch, f.err
}

type fakeReports struct {
	result reportdomain.WeeklyResult
	calls  int
}

func (f *fakeReports) SendWeekly(ctx context.Context, req reportdomain.WeeklyRequest) (reportdomain.WeeklyResult, error) {
	f.calls++
	return f.result, nil
}

type testServer struct {
	srv     *Server
	db      *gorm.DB
	conns   *fakeConnections
	sync    *fakeSync
	reports *fakeReports
}

func newTestServer(t *testing.T, cfg config.Config, limiter *ratelimit.ManualSyncLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t, &notificationdomain.Preference{}, &notificationdomain.Reservation{}, &anomalydomain.Anomaly{})
	ts := &testServer{
		db:      db,
		conns:   &fakeConnections{},
		sync:    &fakeSync{},
		reports: &fakeReports{},
	}
	ts.srv = NewServer(ServerParams{
		Engine:       NewEngine(nil),
		Cfg:          cfg,
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		Connections:  ts.conns,
		Sync:         ts.sync,
		Reports:      ts.reports,
		Preferences:  notificationrepository.ProvidePreferences(),
		Reservations: notificationrepository.Provide(),
		Anomalies:    anomalyrepository.Provide(),
		SyncLimiter:  limiter,
	})
	ts.srv.RegisterRoutes()
	return ts
}

func (ts *testServer) do(method, path, body string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestCronAuth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{name: "missing header", secret: testSecret, header: "", want: http.StatusUnauthorized},
		{name: "wrong secret", secret: testSecret, header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong scheme", secret: testSecret, header: "Basic " + testSecret, want: http.StatusUnauthorized},
		{name: "secret unset", secret: "", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "valid", secret: testSecret, header: "bearer " + testSecret, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, config.Config{CronSecret: tt.secret}, nil)
			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/auto-sync", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			ts.srv.Engine().ServeHTTP(resp, req)
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	resp := ts.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSyncUserPassesWindow(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)

	resp := ts.do(http.MethodPost, "/v1/users/user-1/sync", `{"days":14}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "user-1", ts.sync.last.UserID)
	assert.Equal(t, 14, ts.sync.last.WindowDays)

	resp = ts.do(http.MethodPost, "/v1/users/user-1/sync", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, ts.sync.last.WindowDays)

	resp = ts.do(http.MethodPost, "/v1/users/user-1/sync", `{"days":"many"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSyncUserMapsSyncErrors(t *testing.T) {
	tests := []struct {
		code       costsyncdomain.ErrorCode
		retry      time.Duration
		wantStatus int
		wantRetry  string
	}{
		{code: costsyncdomain.CodeInvalidWindow, wantStatus: http.StatusBadRequest},
		{code: costsyncdomain.CodeNotConnected, wantStatus: http.StatusConflict},
		{code: costsyncdomain.CodeInvalidCredentials, wantStatus: http.StatusUnprocessableEntity},
		{code: costsyncdomain.CodeAccessDenied, wantStatus: http.StatusUnprocessableEntity},
		{code: costsyncdomain.CodeTooSoon, retry: 90 * time.Second, wantStatus: http.StatusTooManyRequests, wantRetry: "90"},
		{code: costsyncdomain.CodeThrottled, retry: 1500 * time.Millisecond, wantStatus: http.StatusTooManyRequests, wantRetry: "2"},
		{code: costsyncdomain.CodeProviderError, wantStatus: http.StatusBadGateway},
		{code: costsyncdomain.CodeStorageError, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
			ts.sync.err = &costsyncdomain.SyncError{Code: tt.code, Message: "details", RetryAfter: tt.retry}

			resp := ts.do(http.MethodPost, "/v1/users/user-1/sync", `{"days":30}`, true)
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Equal(t, tt.wantRetry, resp.Header().Get("Retry-After"))

			payload := decodeError(t, resp)
			assert.Equal(t, string(tt.code), payload.Code)
			assert.Equal(t, "details", payload.Message)
		})
	}
}

func TestManualSyncRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{
		CronSecret: testSecret,
		RateLimit:  config.RateLimitConfig{ManualSyncRate: 0.01, ManualSyncBurst: 1},
	}
	ts := newTestServer(t, cfg, ratelimit.NewManualSyncLimiter(cfg, client))

	resp := ts.do(http.MethodPost, "/v1/users/user-1/sync", `{"days":30}`, true)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(http.MethodPost, "/v1/users/user-1/sync", `{"days":30}`, true)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, resp).Type)

	resp = ts.do(http.MethodPost, "/v1/users/user-2/sync", `{"days":30}`, true)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2, ts.sync.calls)
}

func TestAutoSyncJob(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	ts.sync.batch = costsyncdomain.BatchResult{Skipped: true}

	resp := ts.do(http.MethodPost, "/internal/jobs/auto-sync", `{"maxUsers":50,"minHoursSinceLastSync":6,"concurrency":4}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, costsyncdomain.BatchRequest{MaxUsers: 50, MinHoursSinceLastSync: 6, Concurrency: 4}, ts.sync.batchReq)

	var body struct {
		Data costsyncdomain.BatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Data.Skipped)

	resp = ts.do(http.MethodPost, "/internal/jobs/auto-sync", `{"maxUsers":-1}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWeeklyReportJob(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	ts.reports.result = reportdomain.WeeklyResult{Selected: 3, OptedIn: 2, Sent: 2}

	resp := ts.do(http.MethodPost, "/internal/jobs/weekly-report", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ts.reports.calls)

	var body struct {
		Data reportdomain.WeeklyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.Sent)
}

func TestConnect(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	ts.conns.conn = connectiondomain.Connection{
		UserID:          "user-1",
		Provider:        connectiondomain.ProviderAWS,
		CredentialToken: "sealed-token",
		Status:          connectiondomain.StatusConnected,
	}

	resp := ts.do(http.MethodPost, "/v1/users/user-1/connection",
		`{"access_key_id":" AKIA ","secret_access_key":"secret","region":"us-east-1"}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "AKIA", ts.conns.last.Credentials.AccessKeyID)
	assert.Equal(t, "user-1", ts.conns.last.UserID)
	assert.Contains(t, resp.Body.String(), `"status":"connected"`)
	assert.NotContains(t, resp.Body.String(), "sealed-token")
}

func TestConnectMapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{name: "missing credentials", err: connectiondomain.ErrInvalidCredentials, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "rejected credentials", err: &billing.Error{Code: billing.CodeInvalidCredentials}, wantStatus: http.StatusUnprocessableEntity, wantType: "invalid_credentials"},
		{name: "access denied", err: &billing.Error{Code: billing.CodeAccessDenied}, wantStatus: http.StatusUnprocessableEntity, wantType: "access_denied"},
		{name: "throttled", err: &billing.Error{Code: billing.CodeThrottled, RetryAfter: 3 * time.Second}, wantStatus: http.StatusTooManyRequests, wantType: "throttled"},
		{name: "provider", err: &billing.Error{Code: billing.CodeProviderError}, wantStatus: http.StatusBadGateway, wantType: "provider_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
			ts.conns.err = tt.err

			resp := ts.do(http.MethodPost, "/v1/users/user-1/connection", `{"access_key_id":"a","secret_access_key":"b"}`, true)
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Equal(t, tt.wantType, decodeError(t, resp).Type)
		})
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	ts.conns.err = connectiondomain.ErrNotFound

	resp := ts.do(http.MethodGet, "/v1/users/user-1/connection", "", true)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestNotificationPreferencesPatch(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)

	resp := ts.do(http.MethodPut, "/v1/users/user-1/notification-preferences",
		`{"email":"ops@example.com","email_enabled":true}`, true)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(http.MethodPut, "/v1/users/user-1/notification-preferences",
		`{"weekly_report_enabled":true}`, true)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(http.MethodGet, "/v1/users/user-1/notification-preferences", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data notificationdomain.Preference `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "ops@example.com", body.Data.Email)
	assert.True(t, body.Data.EmailEnabled)
	assert.True(t, body.Data.WeeklyReportEnabled)
	assert.False(t, body.Data.SlackEnabled)

	resp = ts.do(http.MethodPut, "/v1/users/user-1/notification-preferences", `{"email":"not-an-address"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListNotificationsEmpty(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)

	resp := ts.do(http.MethodGet, "/v1/users/user-1/notifications?limit=5", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":[]}`, resp.Body.String())

	resp = ts.do(http.MethodGet, "/v1/users/user-1/notifications?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(&costsyncdomain.SyncError{Code: costsyncdomain.CodeThrottled})
	assert.Equal(t, "throttled", typ)
	assert.Equal(t, "THROTTLED", code)

	typ, code = classifyErrorForLog(connectiondomain.ErrInvalidUserID)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_user_id", code)

	typ, _ = classifyErrorForLog(ErrUnauthorized)
	assert.Equal(t, "unauthorized", typ)
}

func TestAnomalyTriage(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	pct := 1.2
	_, err := anomalyrepository.Provide().Upsert(context.Background(), ts.db, "user-1", []anomalydomain.Anomaly{{
		ID:         1,
		UserID:     "user-1",
		Day:        "2026-03-09",
		Dimension:  "Amazon S3 / Requests",
		Observed:   220,
		Baseline:   100,
		PctChange:  &pct,
		Severity:   "critical",
		Currency:   "USD",
		Message:    "spike",
		DetectedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}})
	require.NoError(t, err)

	resp := ts.do(http.MethodPut, "/v1/users/user-1/anomalies/status",
		`{"day":"2026-03-09","dimension":"Amazon S3 / Requests","status":"acknowledged"}`, true)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.do(http.MethodGet, "/v1/users/user-1/anomalies?status=acknowledged", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data []anomalydomain.Anomaly `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, anomalydomain.StatusAcknowledged, body.Data[0].Status)

	resp = ts.do(http.MethodGet, "/v1/users/user-1/anomalies?status=open", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":[]}`, resp.Body.String())
}

func TestAnomalyStatusErrors(t *testing.T) {
	ts := newTestServer(t, config.Config{CronSecret: testSecret}, nil)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "unknown anomaly", body: `{"day":"2026-03-09","dimension":"TOTAL","status":"resolved"}`, status: http.StatusNotFound},
		{name: "bad status", body: `{"day":"2026-03-09","dimension":"TOTAL","status":"closed"}`, status: http.StatusBadRequest, code: "invalid_status"},
		{name: "bad day", body: `{"day":"09/03/2026","dimension":"TOTAL","status":"resolved"}`, status: http.StatusBadRequest, code: "invalid_date"},
		{name: "missing dimension", body: `{"day":"2026-03-09","status":"resolved"}`, status: http.StatusBadRequest, code: "required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(http.MethodPut, "/v1/users/user-1/anomalies/status", tc.body, true)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
			if tc.code != "" {
				payload := decodeError(t, resp)
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			}
		})
	}
}
