package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	"github.com/smallbiznis/costwatch/internal/detection"
	"github.com/smallbiznis/costwatch/internal/notification/domain"
	"github.com/smallbiznis/costwatch/internal/observability/metrics"
	"github.com/smallbiznis/costwatch/internal/observability/tracing"
	"github.com/smallbiznis/costwatch/internal/providers/email"
	"github.com/smallbiznis/costwatch/internal/providers/slack"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorMessage = 500

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Alerting    *config.AlertingConfigHolder
	Repo        domain.Repository
	Preferences domain.PreferenceRepository
	Email       email.Provider
	Slack       slack.Provider
	Metrics     *metrics.PipelineMetrics `optional:"true"`
}

type Dispatcher struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	alerting     *config.AlertingConfigHolder
	repo         domain.Repository
	preferences  domain.PreferenceRepository
	email        email.Provider
	slack        slack.Provider
	metrics      *metrics.PipelineMetrics
	staleAfter   time.Duration
	sendTimeout  time.Duration
	maxAttempts  int
	dashboardURL string
}

func New(p Params) domain.Dispatcher {
	staleAfter := p.Config.Notify.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	sendTimeout := p.Config.Notify.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	maxAttempts := p.Config.Notify.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		db:           p.DB,
		log:          p.Log.Named("notification.dispatcher"),
		genID:        p.GenID,
		clock:        p.Clock,
		alerting:     p.Alerting,
		repo:         p.Repo,
		preferences:  p.Preferences,
		email:        p.Email,
		slack:        p.Slack,
		metrics:      p.Metrics,
		staleAfter:   staleAfter,
		sendTimeout:  sendTimeout,
		maxAttempts:  maxAttempts,
		dashboardURL: strings.TrimRight(p.Config.Notify.DashboardURL, "/"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, userID string, anomalies []anomalydomain.Anomaly) domain.DispatchResult {
	ctx, span := tracing.StartSpan(ctx, "notification.dispatch",
		attribute.String("user_id", userID),
		attribute.Int("anomalies", len(anomalies)),
	)
	defer span.End()

	result := domain.DispatchResult{Considered: len(anomalies)}
	rules := d.alerting.Get()
	minSeverity, ok := detection.ParseSeverity(rules.MinSeverity)
	if !ok {
		minSeverity = detection.SeverityWarning
	}

	eligible := make([]anomalydomain.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if a.Status == anomalydomain.StatusResolved {
			continue
		}
		if !detection.Severity(a.Severity).AtLeast(minSeverity) {
			continue
		}
		eligible = append(eligible, a)
	}
	result.Eligible = len(eligible)
	if len(eligible) == 0 {
		return result
	}

	pref, err := d.preferences.Find(ctx, d.db, userID)
	if err != nil {
		d.log.Warn("notification.preferences.load_failed", zap.String("user_id", userID), zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("load preferences: %v", err))
		return result
	}
	if pref == nil {
		pref = &domain.Preference{UserID: userID}
	}

	for _, a := range eligible {
		a := a
		if rules.ChannelEnabled(config.ChannelEmail) {
			destination := pref.EmailDestination()
			msg := renderAnomalyEmail(a, d.dashboardURL)
			outcome, err := d.Deliver(ctx, domain.Delivery{
				UserID:      userID,
				Kind:        domain.KindAnomalyEmail,
				Channel:     config.ChannelEmail,
				Day:         a.Day,
				Dimension:   a.Dimension,
				Destination: destination,
				Send: func(ctx context.Context) error {
					return d.email.SendEmail(ctx, destination, msg.Subject, msg.Text, msg.HTML)
				},
			})
			d.collect(&result, outcome, err, a, config.ChannelEmail)
		}
		if rules.ChannelEnabled(config.ChannelSlack) {
			destination := pref.SlackDestination()
			text := renderAnomalySlack(a, d.dashboardURL)
			outcome, err := d.Deliver(ctx, domain.Delivery{
				UserID:      userID,
				Kind:        domain.KindAnomalySlack,
				Channel:     config.ChannelSlack,
				Day:         a.Day,
				Dimension:   a.Dimension,
				Destination: destination,
				Send: func(ctx context.Context) error {
					return d.slack.SendInstantMessage(ctx, destination, text)
				},
			})
			d.collect(&result, outcome, err, a, config.ChannelSlack)
		}
	}

	d.log.Info("notification.dispatch.finish",
		zap.String("user_id", userID),
		zap.Int("eligible", result.Eligible),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result
}

func (d *Dispatcher) collect(result *domain.DispatchResult, outcome domain.Outcome, err error, a anomalydomain.Anomaly, channel string) {
	result.Record(outcome)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s/%s: %v", channel, a.Day, a.Dimension, err))
	}
}

// Deliver reserves the slot, sends once, and records the terminal state.
func (d *Dispatcher) Deliver(ctx context.Context, delivery domain.Delivery) (domain.Outcome, error) {
	now := d.clock.Now()
	reserved, err := d.repo.Reserve(ctx, d.db, domain.ReserveRequest{
		ID:          d.genID.Generate(),
		UserID:      delivery.UserID,
		Kind:        delivery.Kind,
		Channel:     delivery.Channel,
		Day:         delivery.Day,
		Dimension:   delivery.Dimension,
		Destination: delivery.Destination,
		Now:         now,
		StaleBefore: now.Add(-d.staleAfter),
		MaxAttempts: d.maxAttempts,
	})
	if err != nil {
		d.metrics.IncNotification(delivery.Channel, metrics.NotificationOutcomeFailed)
		return domain.OutcomeFailed, fmt.Errorf("reserve notification: %w", err)
	}
	if !reserved.Matched || reserved.Document == nil {
		d.metrics.IncNotification(delivery.Channel, metrics.NotificationOutcomeSkipped)
		return domain.OutcomeSkipped, nil
	}
	slot := reserved.Document
	fields := []zap.Field{
		zap.String("user_id", delivery.UserID),
		zap.String("kind", string(delivery.Kind)),
		zap.String("day", delivery.Day),
		zap.String("dimension", delivery.Dimension),
		zap.Int("attempt", slot.Attempts),
	}

	var sendErr error
	if strings.TrimSpace(delivery.Destination) == "" {
		sendErr = errors.New(domain.MessageNotOptedIn)
	} else {
		sendErr = d.send(ctx, delivery.Send)
	}

	finished := d.clock.Now()
	if sendErr != nil {
		message := truncate(sendErr.Error())
		if _, err := d.repo.MarkFailed(ctx, d.db, slot.ID, slot.Attempts, message, finished); err != nil {
			return domain.OutcomeFailed, fmt.Errorf("mark notification failed: %w", err)
		}
		d.metrics.IncNotification(delivery.Channel, metrics.NotificationOutcomeFailed)
		d.log.Warn("notification.failed", append(fields, zap.String("reason", message))...)
		return domain.OutcomeFailed, nil
	}

	applied, err := d.repo.MarkSent(ctx, d.db, slot.ID, slot.Attempts, finished)
	if err != nil {
		return domain.OutcomeSent, fmt.Errorf("mark notification sent: %w", err)
	}
	if !applied {
		d.log.Warn("notification.sent.superseded", fields...)
	}
	d.metrics.IncNotification(delivery.Channel, metrics.NotificationOutcomeSent)
	d.log.Info("notification.sent", fields...)
	return domain.OutcomeSent, nil
}

func (d *Dispatcher) send(ctx context.Context, send func(context.Context) error) (err error) {
	if send == nil {
		return errors.New("channel not configured")
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
		}
	}()
	return send(sendCtx)
}

func truncate(message string) string {
	if len(message) <= maxErrorMessage {
		return message
	}
	return message[:maxErrorMessage]
}
