package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	anomalyrepository "github.com/smallbiznis/costwatch/internal/anomaly/repository"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	connectionrepository "github.com/smallbiznis/costwatch/internal/connection/repository"
	costdomain "github.com/smallbiznis/costwatch/internal/cost/domain"
	costrepository "github.com/smallbiznis/costwatch/internal/cost/repository"
	"github.com/smallbiznis/costwatch/internal/costsync/domain"
	"github.com/smallbiznis/costwatch/internal/credential"
	"github.com/smallbiznis/costwatch/internal/detection"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	notificationrepository "github.com/smallbiznis/costwatch/internal/notification/repository"
	notificationservice "github.com/smallbiznis/costwatch/internal/notification/service"
	"github.com/smallbiznis/costwatch/internal/providers/billing"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"github.com/smallbiznis/costwatch/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type fakeProvider struct {
	mu    sync.Mutex
	rows  []billing.Row
	err   error
	calls int32
	start string
	end   string
}

func (f *fakeProvider) FetchDailyCosts(ctx context.Context, creds billing.Credentials, start, endExclusive string) ([]billing.Row, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start, f.end = start, endExclusive
	return f.rows, f.err
}

func (f *fakeProvider) Ping(ctx context.Context, creds billing.Credentials) error {
	return f.err
}

type countingEmail struct {
	calls int32
}

func (c *countingEmail) SendEmail(ctx context.Context, to, subject, bodyText, bodyHTML string) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

type noopSlack struct{}

func (noopSlack) SendInstantMessage(ctx context.Context, to, text string) error { return nil }

type harness struct {
	db       *gorm.DB
	svc      *Service
	provider *fakeProvider
	email    *countingEmail
	clock    *clock.FakeClock
	store    *credential.Store
	node     *snowflake.Node
	locker   *runlock.DBLocker
}

func newHarness(t *testing.T) harness {
	t.Helper()
	db := dbtest.Open(t,
		&connectiondomain.Connection{},
		&costdomain.CostPoint{},
		&anomalydomain.Anomaly{},
		&notificationdomain.Reservation{},
		&notificationdomain.Preference{},
		&runlock.RunLock{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store, err := credential.NewStore(testKey)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{
		Sync:   config.SyncConfig{Cooldown: 2 * time.Minute, DefaultWindowDays: 30, TopDimensions: 12},
		Notify: config.NotifyConfig{StaleAfter: 15 * time.Minute, SendTimeout: time.Second, MaxAttempts: 3},
		Lock:   config.LockConfig{AutoSyncTTL: 20 * time.Minute},
	}

	prefs := notificationrepository.ProvidePreferences()
	require.NoError(t, prefs.Upsert(context.Background(), db, &notificationdomain.Preference{
		UserID:       "user-1",
		Email:        "ops@example.com",
		EmailEnabled: true,
		CreatedAt:    fake.Now(),
		UpdatedAt:    fake.Now(),
	}))

	emailer := &countingEmail{}
	dispatcher := notificationservice.New(notificationservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Config:      cfg,
		Alerting:    config.NewStaticAlertingHolder(config.AlertingConfig{MinSeverity: "warning", Channels: []string{config.ChannelEmail}}),
		Repo:        notificationrepository.Provide(),
		Preferences: prefs,
		Email:       emailer,
		Slack:       noopSlack{},
	})

	locker := runlock.NewDBLocker(db, fake)
	provider := &fakeProvider{}
	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Config:      cfg,
		Connections: connectionrepository.Provide(),
		Costs:       costrepository.Provide(),
		Anomalies:   anomalyrepository.Provide(),
		Dispatcher:  dispatcher,
		Provider:    provider,
		Store:       store,
		Runner:      runlock.NewRunner(locker, zap.NewNop(), nil),
	}).(*Service)

	return harness{db: db, svc: svc, provider: provider, email: emailer, clock: fake, store: store, node: node, locker: locker}
}

func (h harness) connect(t *testing.T, userID string, lastSync *time.Time) {
	t.Helper()
	plaintext, err := json.Marshal(billing.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"})
	require.NoError(t, err)
	token, err := h.store.Encrypt(plaintext)
	require.NoError(t, err)
	now := h.clock.Now()
	require.NoError(t, h.db.Create(&connectiondomain.Connection{
		ID:              h.node.Generate(),
		UserID:          userID,
		Provider:        connectiondomain.ProviderAWS,
		CredentialToken: token,
		Status:          connectiondomain.StatusConnected,
		LastSyncAt:      lastSync,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error)
}

func (h harness) connection(t *testing.T, userID string) connectiondomain.Connection {
	t.Helper()
	var conn connectiondomain.Connection
	require.NoError(t, h.db.Where("user_id = ?", userID).First(&conn).Error)
	return conn
}

// totalSeries returns 30 days of 100 ending yesterday, with the last day at 220.
func totalSeries(now time.Time) []billing.Row {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows := make([]billing.Row, 0, 30)
	for i := 0; i < 30; i++ {
		amount := 100.0
		if i == 29 {
			amount = 220
		}
		rows = append(rows, billing.Row{
			Date:      today.AddDate(0, 0, i-30).Format(detection.DayLayout),
			Dimension: detection.Total,
			Amount:    amount,
			Currency:  "USD",
		})
	}
	return rows
}

func hoursAgo(c clock.Clock, h int) *time.Time {
	t := c.Now().Add(-time.Duration(h) * time.Hour)
	return &t
}

func TestSyncDetectsSpikeAndNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", hoursAgo(h.clock, 3))
	h.provider.rows = totalSeries(h.clock.Now())
	ctx := context.Background()

	res, err := h.svc.Sync(ctx, domain.SyncRequest{UserID: "user-1", WindowDays: 30})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", h.provider.start)
	assert.Equal(t, "2026-03-10", h.provider.end)
	assert.Equal(t, 30, res.PointsWritten)
	assert.Equal(t, 1, res.Anomalies)
	assert.Equal(t, 1, res.Notifications.Sent)
	assert.Empty(t, res.Warnings)

	var anomalies []anomalydomain.Anomaly
	require.NoError(t, h.db.Find(&anomalies).Error)
	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, "2026-03-09", a.Day)
	assert.Equal(t, detection.Total, a.Dimension)
	assert.Equal(t, 220.0, a.Observed)
	assert.InDelta(t, 100.0, a.Baseline, 1e-9)
	require.NotNil(t, a.PctChange)
	assert.InDelta(t, 1.2, *a.PctChange, 1e-9)
	assert.Equal(t, string(detection.SeverityCritical), a.Severity)

	var reservations []notificationdomain.Reservation
	require.NoError(t, h.db.Find(&reservations).Error)
	require.Len(t, reservations, 1)
	assert.Equal(t, notificationdomain.KindAnomalyEmail, reservations[0].Kind)
	assert.Equal(t, notificationdomain.StateSent, reservations[0].State)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.email.calls))

	conn := h.connection(t, "user-1")
	require.NotNil(t, conn.LastSyncAt)
	assert.True(t, conn.LastSyncAt.Equal(h.clock.Now()))
	assert.Nil(t, conn.LastError)
}

func TestSyncIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	h.provider.rows = totalSeries(h.clock.Now())
	ctx := context.Background()

	_, err := h.svc.Sync(ctx, domain.SyncRequest{UserID: "user-1"})
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	_, err = h.svc.Sync(ctx, domain.SyncRequest{UserID: "user-1"})
	require.NoError(t, err)

	var points, anomalies, reservations int64
	require.NoError(t, h.db.Model(&costdomain.CostPoint{}).Count(&points).Error)
	require.NoError(t, h.db.Model(&anomalydomain.Anomaly{}).Count(&anomalies).Error)
	require.NoError(t, h.db.Model(&notificationdomain.Reservation{}).Count(&reservations).Error)
	assert.Equal(t, int64(30), points)
	assert.Equal(t, int64(1), anomalies)
	assert.Equal(t, int64(1), reservations)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.email.calls))
}

func TestSyncPreservesTriageStatus(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	h.provider.rows = totalSeries(h.clock.Now())
	ctx := context.Background()

	_, err := h.svc.Sync(ctx, domain.SyncRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, anomalyrepository.Provide().UpdateStatus(ctx, h.db, "user-1",
		anomalydomain.Key{Day: "2026-03-09", Dimension: detection.Total},
		anomalydomain.StatusAcknowledged, h.clock.Now()))

	h.clock.Advance(5 * time.Minute)
	_, err = h.svc.Sync(ctx, domain.SyncRequest{UserID: "user-1"})
	require.NoError(t, err)

	var a anomalydomain.Anomaly
	require.NoError(t, h.db.First(&a).Error)
	assert.Equal(t, anomalydomain.StatusAcknowledged, a.Status)
}

func TestSyncRejectsInvalidWindow(t *testing.T) {
	h := newHarness(t)
	for _, days := range []int{6, 91, -1} {
		_, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "user-1", WindowDays: days})
		serr, ok := domain.AsSyncError(err)
		require.True(t, ok)
		assert.Equal(t, domain.CodeInvalidWindow, serr.Code)
	}
}

func TestSyncNotConnected(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "ghost"})
	serr, ok := domain.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotConnected, serr.Code)
	assert.Zero(t, atomic.LoadInt32(&h.provider.calls))
}

func TestSyncCooldown(t *testing.T) {
	h := newHarness(t)
	last := h.clock.Now().Add(-30 * time.Second)
	h.connect(t, "user-1", &last)

	_, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "user-1"})
	serr, ok := domain.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeTooSoon, serr.Code)
	assert.Equal(t, 90*time.Second, serr.RetryAfter)
	assert.True(t, serr.Retryable())
	assert.Zero(t, atomic.LoadInt32(&h.provider.calls))
}

func TestSyncUndecryptableCredentialFailsConnection(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	require.NoError(t, h.db.Model(&connectiondomain.Connection{}).
		Where("user_id = ?", "user-1").
		Update("credential_token", "v1.garbage").Error)

	_, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "user-1"})
	serr, ok := domain.AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidCredentials, serr.Code)
	assert.Zero(t, atomic.LoadInt32(&h.provider.calls))

	conn := h.connection(t, "user-1")
	assert.Equal(t, connectiondomain.StatusFailed, conn.Status)
	require.NotNil(t, conn.LastError)
	assert.Equal(t, msgDecryptFailed, *conn.LastError)
}

func TestSyncProviderFailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   domain.ErrorCode
		wantStatus connectiondomain.Status
		wantRetry  time.Duration
	}{
		{
			name:       "access denied is terminal",
			err:        &billing.Error{Code: billing.CodeAccessDenied, Message: "AWS denied access to Cost Explorer"},
			wantCode:   domain.CodeAccessDenied,
			wantStatus: connectiondomain.StatusFailed,
		},
		{
			name:       "invalid credentials is terminal",
			err:        &billing.Error{Code: billing.CodeInvalidCredentials},
			wantCode:   domain.CodeInvalidCredentials,
			wantStatus: connectiondomain.StatusFailed,
		},
		{
			name:       "throttled keeps connection",
			err:        &billing.Error{Code: billing.CodeThrottled, RetryAfter: 30 * time.Second},
			wantCode:   domain.CodeThrottled,
			wantStatus: connectiondomain.StatusConnected,
			wantRetry:  30 * time.Second,
		},
		{
			name:       "untyped error is provider error",
			err:        assert.AnError,
			wantCode:   domain.CodeProviderError,
			wantStatus: connectiondomain.StatusConnected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.connect(t, "user-1", nil)
			h.provider.err = tt.err

			_, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "user-1"})
			serr, ok := domain.AsSyncError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, serr.Code)
			assert.Equal(t, tt.wantRetry, serr.RetryAfter)
			assert.NotEmpty(t, serr.Message)

			conn := h.connection(t, "user-1")
			assert.Equal(t, tt.wantStatus, conn.Status)
			assert.NotNil(t, conn.LastError)
			assert.Nil(t, conn.LastSyncAt)
		})
	}
}

func TestSyncScoresTopDimensions(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	var rows []billing.Row
	for i := 0; i < 14; i++ {
		day := today.AddDate(0, 0, i-14).Format(detection.DayLayout)
		ec2 := 50.0
		if i == 13 {
			ec2 = 150
		}
		rows = append(rows,
			billing.Row{Date: day, Dimension: "Amazon EC2", Amount: ec2, Currency: "USD"},
			billing.Row{Date: day, Dimension: "Amazon S3", Amount: 5, Currency: "USD"},
		)
	}
	h.provider.rows = rows

	res, err := h.svc.Sync(context.Background(), domain.SyncRequest{UserID: "user-1", WindowDays: 14})
	require.NoError(t, err)
	assert.Equal(t, 42, res.PointsWritten)

	var anomalies []anomalydomain.Anomaly
	require.NoError(t, h.db.Order("dimension").Find(&anomalies).Error)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "Amazon EC2", anomalies[0].Dimension)
	assert.Equal(t, detection.Total, anomalies[1].Dimension)
	assert.InDelta(t, 155.0, anomalies[1].Observed, 1e-9)
}

func TestSyncDueRunsEligibleUsers(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	h.connect(t, "user-2", hoursAgo(h.clock, 24))
	h.connect(t, "user-3", hoursAgo(h.clock, 1))
	h.provider.rows = totalSeries(h.clock.Now())

	res, err := h.svc.SyncDue(context.Background(), domain.BatchRequest{MaxUsers: 10, MinHoursSinceLastSync: 12, Concurrency: 2})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.provider.calls))
}

func TestSyncDueCollectsPerUserFailures(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)
	h.connect(t, "user-2", nil)
	h.provider.err = &billing.Error{Code: billing.CodeThrottled, RetryAfter: time.Minute}

	res, err := h.svc.SyncDue(context.Background(), domain.BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Failed)
	for _, u := range res.Users {
		assert.Equal(t, domain.UserStatusFailed, u.Status)
		assert.Equal(t, domain.CodeThrottled, u.Code)
	}
}

func TestSyncDueSkipsWhenLocked(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "user-1", nil)

	ok, err := h.locker.Acquire(context.Background(), runlock.KeyAutoSync, time.Hour, "other-replica")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.svc.SyncDue(context.Background(), domain.BatchRequest{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, atomic.LoadInt32(&h.provider.calls))
}

func TestNormalizeBatchRequest(t *testing.T) {
	h := newHarness(t)
	got := h.svc.normalize(domain.BatchRequest{MaxUsers: 5000, Concurrency: 50})
	assert.Equal(t, maxBatchUsers, got.MaxUsers)
	assert.Equal(t, maxBatchConcurrency, got.Concurrency)
	assert.Equal(t, defaultBatchMinHours, got.MinHoursSinceLastSync)

	got = h.svc.normalize(domain.BatchRequest{})
	assert.Equal(t, defaultBatchConcurrency, got.Concurrency)
	assert.Equal(t, defaultBatchUsers, got.MaxUsers)
}
