package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DatabaseType is the SQL dialect a migrator targets.
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dialect binds a DatabaseType to its database/sql driver and golang-migrate driver.
type dialect struct {
	sqlDriver string
	aliases   []string
	open      func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		sqlDriver: "postgres",
		aliases:   []string{"postgres", "postgresql", "pg"},
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		sqlDriver: "mysql",
		aliases:   []string{"mysql", "mariadb"},
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeSQLite: {
		sqlDriver: "sqlite3",
		aliases:   []string{"sqlite", "sqlite3"},
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

func lookupDialect(dbType DatabaseType) (dialect, error) {
	d, ok := dialects[dbType]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", dbType)
	}
	return d, nil
}

// MigrationStatus describes one schema migration.
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo summarizes the current schema state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config holds the migrator settings.
type Config struct {
	DatabaseType DatabaseType

	// DatabaseURL is a DSN in the dialect's native form, see BuildDatabaseURL.
	DatabaseURL string

	// TableName defaults to schema_migrations.
	TableName string

	// LockTimeout bounds waiting for the migration lock. Defaults to 15s.
	LockTimeout time.Duration

	// Logger receives golang-migrate progress output. Nil discards it.
	Logger *zap.Logger
}

// Migrator applies the workflow and execution schema.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator runs the embedded SQL files through golang-migrate.
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrator opens the database and prepares the embedded migrations.
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, err := lookupDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	table := cfg.TableName
	if table == "" {
		table = "schema_migrations"
	}

	db, err := sql.Open(d.sqlDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := d.open(db, table)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, migrationsPath(cfg.DatabaseType))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	mg.LockTimeout = cfg.LockTimeout
	if mg.LockTimeout == 0 {
		mg.LockTimeout = 15 * time.Second
	}
	if cfg.Logger != nil {
		mg.Log = migrateLogger{cfg.Logger.Sugar()}
	}

	return &DefaultMigrator{dbType: cfg.DatabaseType, migrate: mg, db: db}, nil
}

// migrateLogger adapts zap to migrate.Logger.
type migrateLogger struct {
	s *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.s.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }

// run executes op and asks golang-migrate to stop after the current
// migration when ctx is cancelled.
func (m *DefaultMigrator) run(ctx context.Context, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	case <-ctx.Done():
		select {
		case m.migrate.GracefulStop <- true:
		default:
		}
		<-done
		return ctx.Err()
	}
}

// Up applies all pending migrations.
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.run(ctx, m.migrate.Up); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls back the last migration.
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// Steps applies n migrations, or rolls back -n when negative.
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.run(ctx, func() error { return m.migrate.Steps(n) }); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Force records version as applied without running anything.
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns the applied version; 0 means nothing applied yet.
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration with its applied state.
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		out[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out, nil
}

// Info summarizes Status.
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(statuses), nil
}

func summarize(statuses []MigrationStatus) *MigrationInfo {
	info := &MigrationInfo{TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
			info.CurrentVersion = s.Version
		}
		info.Dirty = info.Dirty || s.Dirty
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info
}

// Close releases the source and database handles.
func (m *DefaultMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations parses 000001_name.up.sql files, sorted by version.
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsPath(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		base, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if entry.IsDir() || !ok {
			continue
		}
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(version), name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func migrationsPath(dbType DatabaseType) string {
	return "migrations/" + string(dbType)
}

// ParseDatabaseType accepts the common aliases of each dialect.
func ParseDatabaseType(s string) (DatabaseType, error) {
	s = strings.ToLower(s)
	for dbType, d := range dialects {
		for _, alias := range d.aliases {
			if s == alias {
				return dbType, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// BuildDatabaseURL builds a DSN the dialect's database/sql driver accepts.
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", database)
	default:
		return ""
	}
}
