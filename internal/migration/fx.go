package migration

import (
	"github.com/shirikacare/portal/internal/config"
	"github.com/shirikacare/portal/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres databases lean on gorm's migrator. Used for
			// local development against sqlite.
			log.Warn("skipping sql migrations for non-postgres database", zap.String("type", cfg.DBType))
			if err := seed.AutoMigrate(conn); err != nil {
				return err
			}
		}

		if err := seed.EnsureMpesaPaymentMethod(conn); err != nil {
			return err
		}
		if cfg.Bootstrap.AdminEmail != "" && cfg.Bootstrap.AdminPassword != "" {
			return seed.EnsureBootstrapAdmin(conn, cfg.Bootstrap)
		}
		return nil
	}),
)
