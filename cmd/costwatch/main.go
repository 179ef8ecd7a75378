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
	"github.com/smallbiznis/costwatch/internal/server"
	"github.com/smallbiznis/costwatch/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		metricspush.Module,

		// Pipeline
		credential.Module,
		providers.Module,
		connection.Module,
		cost.Module,
		anomaly.Module,
		notification.Module,
		runlock.Module,
		costsync.Module,
		report.Module,

		// Entry points; the in-process loop only starts with SCHEDULER_ENABLED.
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
