package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
)

// NewMigratorFromConfig builds a migrator for the configured database.
// For sqlite, cfg.Name is the database file path.
func NewMigratorFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	url := BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode)
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		Logger:       logger,
	})
}
