package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	costdomain "github.com/smallbiznis/costwatch/internal/cost/domain"
	"github.com/smallbiznis/costwatch/internal/detection"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	"github.com/smallbiznis/costwatch/internal/observability/tracing"
	"github.com/smallbiznis/costwatch/internal/providers/email"
	"github.com/smallbiznis/costwatch/internal/report/domain"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultMaxUsers    = 500
	defaultConcurrency = 4
	maxConcurrency     = 8
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Connections connectiondomain.Repository
	Costs       costdomain.Repository
	Anomalies   anomalydomain.Repository
	Preferences notificationdomain.PreferenceRepository
	Dispatcher  notificationdomain.Dispatcher
	Email       email.Provider
	Runner      *runlock.Runner
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	connections  connectiondomain.Repository
	costs        costdomain.Repository
	anomalies    anomalydomain.Repository
	preferences  notificationdomain.PreferenceRepository
	dispatcher   notificationdomain.Dispatcher
	email        email.Provider
	runner       *runlock.Runner
	lockTTL      time.Duration
	maxUsers     int
	concurrency  int
	dashboardURL string
}

func New(p Params) domain.Service {
	lockTTL := p.Config.Lock.WeeklyReportTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("report.service"),
		clock:        p.Clock,
		connections:  p.Connections,
		costs:        p.Costs,
		anomalies:    p.Anomalies,
		preferences:  p.Preferences,
		dispatcher:   p.Dispatcher,
		email:        p.Email,
		runner:       p.Runner,
		lockTTL:      lockTTL,
		maxUsers:     p.Config.Scheduler.WeeklyReportMaxUsers,
		concurrency:  p.Config.Scheduler.WeeklyReportWorkers,
		dashboardURL: strings.TrimRight(p.Config.Notify.DashboardURL, "/"),
	}
}

func (s *Service) SendWeekly(ctx context.Context, req domain.WeeklyRequest) (domain.WeeklyResult, error) {
	if req.MaxUsers <= 0 {
		req.MaxUsers = s.maxUsers
	}
	if req.MaxUsers <= 0 {
		req.MaxUsers = defaultMaxUsers
	}
	if req.Concurrency <= 0 {
		req.Concurrency = s.concurrency
	}
	if req.Concurrency <= 0 {
		req.Concurrency = defaultConcurrency
	}
	if req.Concurrency > maxConcurrency {
		req.Concurrency = maxConcurrency
	}

	var result domain.WeeklyResult
	acquired, err := s.runner.WithLock(ctx, runlock.KeyWeeklyReport, s.lockTTL, func(ctx context.Context) error {
		ctx, span := tracing.StartSpan(ctx, "report.weekly", attribute.Int("max_users", req.MaxUsers))
		defer span.End()

		conns, err := s.connections.ListConnected(ctx, s.db, req.MaxUsers)
		if err != nil {
			return err
		}
		result.Selected = len(conns)
		week := newWeek(s.clock.Now())

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(req.Concurrency)
		for _, conn := range conns {
			userID := conn.UserID
			g.Go(func() error {
				optedIn, outcome, err := s.sendOne(ctx, userID, week)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", userID, err))
				}
				if !optedIn {
					return nil
				}
				result.OptedIn++
				switch outcome {
				case notificationdomain.OutcomeSent:
					result.Sent++
				case notificationdomain.OutcomeSkipped:
					result.Deduped++
				default:
					result.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		s.log.Info("report.weekly.finish",
			zap.String("week_of", week.key),
			zap.Int("selected", result.Selected),
			zap.Int("opted_in", result.OptedIn),
			zap.Int("sent", result.Sent),
			zap.Int("deduped", result.Deduped),
			zap.Int("failed", result.Failed),
		)
		return nil
	})
	if err != nil {
		return result, err
	}
	result.Skipped = !acquired
	return result, nil
}

func (s *Service) sendOne(ctx context.Context, userID string, w week) (bool, notificationdomain.Outcome, error) {
	pref, err := s.preferences.Find(ctx, s.db, userID)
	if err != nil {
		return false, notificationdomain.OutcomeFailed, fmt.Errorf("load preferences: %w", err)
	}
	if pref == nil || !pref.WeeklyReportEnabled {
		return false, notificationdomain.OutcomeSkipped, nil
	}

	summary, err := s.Summarize(ctx, userID, w)
	if err != nil {
		return true, notificationdomain.OutcomeFailed, err
	}
	destination := strings.TrimSpace(pref.Email)
	msg := renderWeeklyEmail(summary, s.dashboardURL)

	outcome, err := s.dispatcher.Deliver(ctx, notificationdomain.Delivery{
		UserID:      userID,
		Kind:        notificationdomain.KindWeeklyReportEmail,
		Channel:     config.ChannelEmail,
		Day:         w.key,
		Dimension:   detection.Total,
		Destination: destination,
		Send: func(ctx context.Context) error {
			return s.email.SendEmail(ctx, destination, msg.Subject, msg.Text, msg.HTML)
		},
	})
	return true, outcome, err
}

// Summarize compares TOTAL spend of the last seven complete days with the
// seven days before them.
func (s *Service) Summarize(ctx context.Context, userID string, w week) (domain.Summary, error) {
	points, err := s.costs.ListRange(ctx, s.db, userID, detection.Total, w.previousFrom, w.to)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load cost points: %w", err)
	}
	open, err := s.anomalies.ListSince(ctx, s.db, userID, w.from, anomalydomain.StatusOpen)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load anomalies: %w", err)
	}

	summary := domain.Summary{
		UserID:        userID,
		WeekOf:        w.key,
		FromDay:       w.from,
		ToDay:         w.to,
		Currency:      "USD",
		OpenAnomalies: len(open),
	}
	for _, p := range points {
		if p.Currency != "" {
			summary.Currency = p.Currency
		}
		if p.Day >= w.from {
			summary.CurrentSpend += p.Amount
		} else {
			summary.PreviousSpend += p.Amount
		}
	}
	if summary.PreviousSpend > 0 {
		pct := (summary.CurrentSpend - summary.PreviousSpend) / summary.PreviousSpend
		summary.PctChange = &pct
	}
	return summary, nil
}

// week is the reporting period. key is the Monday of the current ISO week and
// dedupes reports for the whole week.
type week struct {
	key          string
	previousFrom string
	from         string
	to           string
}

func newWeek(now time.Time) week {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(today.Weekday()) + 6) % 7
	return week{
		key:          today.AddDate(0, 0, -offset).Format(detection.DayLayout),
		previousFrom: today.AddDate(0, 0, -14).Format(detection.DayLayout),
		from:         today.AddDate(0, 0, -7).Format(detection.DayLayout),
		to:           today.Format(detection.DayLayout),
	}
}
