package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout)
		return exitOK
	}
	command := args[0]

	fs := flag.NewFlagSet("migrate "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type override (postgres, mysql, sqlite)")
	rest, err := parseInterspersed(fs, args[1:])
	if err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	dbCfg := cfg.Database
	if *dbType != "" {
		dbCfg.Driver = *dbType
	}

	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	migrator, err := newMigrator(dbCfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return exitFailure
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)
	if err := cli.Run(ctx, command, rest); err != nil {
		fmt.Fprintf(stderr, "Migration failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// newMigrator 可在测试中替换
var newMigrator = func(cfg config.DatabaseConfig, logger *zap.Logger) (migration.Migrator, error) {
	return migration.NewMigratorFromConfig(cfg, logger)
}
