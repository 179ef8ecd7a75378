package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/costwatch/internal/anomaly"
	"github.com/smallbiznis/costwatch/internal/clock"
	"github.com/smallbiznis/costwatch/internal/config"
	"github.com/smallbiznis/costwatch/internal/connection"
	"github.com/smallbiznis/costwatch/internal/cost"
	"github.com/smallbiznis/costwatch/internal/costsync"
	"github.com/smallbiznis/costwatch/internal/credential"
	"github.com/smallbiznis/costwatch/internal/metricspush"
	"github.com/smallbiznis/costwatch/internal/migration"
	"github.com/smallbiznis/costwatch/internal/notification"
	"github.com/smallbiznis/costwatch/internal/observability"
	"github.com/smallbiznis/costwatch/internal/providers"
	"github.com/smallbiznis/costwatch/internal/report"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"github.com/smallbiznis/costwatch/internal/scheduler"
	"github.com/smallbiznis/costwatch/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		metricspush.Module,

		// Domain services required by scheduler
		credential.Module,
		providers.Module,
		connection.Module,
		cost.Module,
		anomaly.Module,
		notification.Module,
		runlock.Module,
		costsync.Module,
		report.Module,

		// No server module; this binary always runs the loop.
		fx.Decorate(forceSchedulerEnabled),
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func forceSchedulerEnabled(cfg config.Config) config.Config {
	cfg.Scheduler.Enabled = true
	return cfg
}
