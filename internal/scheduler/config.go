package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/costwatch/internal/config"
	costsyncdomain "github.com/smallbiznis/costwatch/internal/costsync/domain"
	reportdomain "github.com/smallbiznis/costwatch/internal/report/domain"
)

const (
	JobAutoSync     = "auto_sync"
	JobWeeklyReport = "weekly_report"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval         time.Duration
	AutoSync            costsyncdomain.BatchRequest
	AutoSyncTimeout     time.Duration
	WeeklyReport        reportdomain.WeeklyRequest
	WeeklyReportWeekday time.Weekday
	WeeklyReportHourUTC int
	WeeklyReportTimeout time.Duration
	// EnabledJobs limits which jobs run; empty enables all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Hour,
		AutoSync:            costsyncdomain.BatchRequest{MaxUsers: 200, MinHoursSinceLastSync: 12, Concurrency: 3},
		AutoSyncTimeout:     15 * time.Minute,
		WeeklyReport:        reportdomain.WeeklyRequest{MaxUsers: 500, Concurrency: 4},
		WeeklyReportWeekday: time.Monday,
		WeeklyReportHourUTC: 9,
		WeeklyReportTimeout: 10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.AutoSyncTimeout <= 0 {
		c.AutoSyncTimeout = defaults.AutoSyncTimeout
	}
	if c.WeeklyReportTimeout <= 0 {
		c.WeeklyReportTimeout = defaults.WeeklyReportTimeout
	}
	if c.WeeklyReportWeekday < time.Sunday || c.WeeklyReportWeekday > time.Saturday {
		c.WeeklyReportWeekday = defaults.WeeklyReportWeekday
	}
	if c.WeeklyReportHourUTC < 0 || c.WeeklyReportHourUTC > 23 {
		c.WeeklyReportHourUTC = defaults.WeeklyReportHourUTC
	}
	return c
}

// ProvideConfig maps application config onto the scheduler. Job timeouts stay
// below the matching run-lock TTL so a stuck batch is cancelled before its
// lock can be taken over.
func ProvideConfig(cfg config.Config) Config {
	sc := Config{
		RunInterval: cfg.Scheduler.RunInterval,
		AutoSync: costsyncdomain.BatchRequest{
			MaxUsers:              cfg.Scheduler.AutoSyncMaxUsers,
			MinHoursSinceLastSync: cfg.Scheduler.AutoSyncMinHours,
			Concurrency:           cfg.Scheduler.AutoSyncConcurrency,
		},
		WeeklyReport: reportdomain.WeeklyRequest{
			MaxUsers:    cfg.Scheduler.WeeklyReportMaxUsers,
			Concurrency: cfg.Scheduler.WeeklyReportWorkers,
		},
		WeeklyReportWeekday: cfg.Scheduler.WeeklyReportWeekday,
		WeeklyReportHourUTC: cfg.Scheduler.WeeklyReportHourUTC,
	}
	if ttl := cfg.Lock.AutoSyncTTL; ttl > 0 {
		sc.AutoSyncTimeout = ttl * 3 / 4
	}
	if ttl := cfg.Lock.WeeklyReportTTL; ttl > 0 {
		sc.WeeklyReportTimeout = ttl * 2 / 3
	}
	for _, job := range strings.Split(cfg.Scheduler.Jobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			sc.EnabledJobs = append(sc.EnabledJobs, job)
		}
	}
	return sc.withDefaults()
}
