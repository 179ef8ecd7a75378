package migration

import (
	"github.com/smallbiznis/costwatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Bootstrap(conn, cfg.DBType); err != nil {
			return err
		}
		log.Info("migration.bootstrap.done", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
