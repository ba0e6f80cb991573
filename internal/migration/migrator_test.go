package migration

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/mailflow/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@db:5432/mailflow?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "mailflow", "u", "p", "disable"))
	assert.Equal(t,
		"postgres://u:p@db:5432/mailflow?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "mailflow", "u", "p", ""))
	assert.Equal(t,
		"u:p@tcp(db:3306)/mailflow?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "mailflow", "u", "p", ""))
	assert.Equal(t,
		"file:/tmp/mf.db?mode=rwc&_foreign_keys=on",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/mf.db", "", "", ""))
	assert.Empty(t, BuildDatabaseURL("oracle", "", 0, "", "", "", ""))
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			files, err := availableMigrations(dbType)
			require.NoError(t, err)
			require.NotEmpty(t, files)
			assert.Equal(t, uint(1), files[0].version)
			assert.Equal(t, "create_workflows", files[0].name)
			for i := 1; i < len(files); i++ {
				assert.Greater(t, files[i].version, files[i-1].version)
			}
		})
	}
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestSummarize(t *testing.T) {
	info := summarize([]MigrationStatus{
		{Version: 1, Applied: true},
		{Version: 2, Applied: true, Dirty: true},
		{Version: 3},
	})
	assert.Equal(t, &MigrationInfo{
		CurrentVersion:    2,
		Dirty:             true,
		TotalMigrations:   3,
		AppliedMigrations: 2,
		PendingMigrations: 1,
	}, info)

	assert.Equal(t, &MigrationInfo{}, summarize(nil))
}

func TestMigrateLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := migrateLogger{zap.New(core).Sugar()}

	l.Printf("1/u create_workflows (%s)\n", "12ms")
	assert.False(t, l.Verbose())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "1/u create_workflows (12ms)", logs.All()[0].Message)
}

func TestNewMigratorFromConfig_UnknownDriver(t *testing.T) {
	_, err := NewMigratorFromConfig(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, "invalid database type")
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("requires cgo sqlite3 driver")
	}

	m, err := NewMigratorFromConfig(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "mailflow.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), info.CurrentVersion)
	assert.Equal(t, 0, info.PendingMigrations)

	// idempotent
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

type fakeMigrator struct {
	version uint
	dirty   bool
	steps   []int
	err     error
}

func (f *fakeMigrator) Up(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.version = 1
	return nil
}
func (f *fakeMigrator) Down(context.Context) error { f.version = 0; return f.err }
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.steps = append(f.steps, n)
	return f.err
}
func (f *fakeMigrator) Force(_ context.Context, v int) error { f.version = uint(v); return f.err }
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	return []MigrationStatus{
		{Version: 1, Name: "create_workflows", Applied: f.version >= 1},
		{Version: 2, Name: "add_labels", Applied: f.version >= 2},
	}, nil
}
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) { return &MigrationInfo{}, nil }
func (f *fakeMigrator) Close() error                                 { return nil }

func TestCLI_Run(t *testing.T) {
	ctx := context.Background()
	fm := &fakeMigrator{}
	var buf bytes.Buffer
	cli := NewCLI(fm)
	cli.SetOutput(&buf)

	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, buf.String(), "No migrations applied yet")

	buf.Reset()
	require.NoError(t, cli.Run(ctx, "up", nil))
	assert.Contains(t, buf.String(), "Current version: 1")

	buf.Reset()
	require.NoError(t, cli.Run(ctx, "status", nil))
	lines := strings.Split(buf.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, []string{"000001", "create_workflows", "Applied"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"000002", "add_labels", "Pending"}, strings.Fields(lines[2]))
	assert.Contains(t, buf.String(), "Total: 2, Applied: 1, Pending: 1")

	require.NoError(t, cli.Run(ctx, "steps", []string{"-1"}))
	assert.Equal(t, []int{-1}, fm.steps)

	require.NoError(t, cli.Run(ctx, "force", []string{"2"}))
	assert.Equal(t, uint(2), fm.version)

	assert.Error(t, cli.Run(ctx, "steps", nil))
	assert.Error(t, cli.Run(ctx, "steps", []string{"x"}))
	assert.ErrorContains(t, cli.Run(ctx, "sideways", nil), "want one of down, force, info, status, steps, up, version")

	buf.Reset()
	require.NoError(t, cli.Run(ctx, "info", nil))
	assert.Contains(t, buf.String(), "Total: 0, Applied: 0, Pending: 0")

	buf.Reset()
	fm.dirty = true
	require.NoError(t, cli.Run(ctx, "", nil))
	assert.Contains(t, buf.String(), "VERSION")
	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, buf.String(), "Current version: 2 (dirty)")
}

func TestCLI_PropagatesErrors(t *testing.T) {
	boom := errors.New("locked")
	cli := NewCLI(&fakeMigrator{err: boom})
	cli.SetOutput(&bytes.Buffer{})
	assert.ErrorIs(t, cli.Run(context.Background(), "up", nil), boom)
}
