package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/internal/migration"
	"github.com/BaSui01/mailflow/workflow"
)

const triageDefinition = `
version: "1"
name: cli-triage
variables:
  fallback:
    type: string
    default: other
nodes:
  - id: inbox
    type: trigger
    next: [parse]
  - id: parse
    type: email_parser
    next: [classify]
  - id: classify
    type: classifier
    parameters:
      source: parse
      default_label: ${fallback}
      rules:
        billing: [invoice, payment]
        outage: [down]
`

const quietConfig = `
log:
  level: error
metrics:
  enabled: false
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	code, out, _ := runCLI("version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "MailFlow dev")

	code, out, _ = runCLI("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Usage:")

	code, _, errOut := runCLI("frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, _ = runCLI()
	assert.Equal(t, exitUsage, code)
}

func TestValidate(t *testing.T) {
	good := writeFile(t, "good.yaml", triageDefinition)
	bad := writeFile(t, "bad.yaml", "version: \"1\"\nnodes: []\n")

	code, out, _ := runCLI("validate", good)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "ok   "+good+" (3 nodes, 2 connections)")

	code, out, _ = runCLI("validate", good, bad)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "FAIL "+bad)

	code, _, _ = runCLI("validate")
	assert.Equal(t, exitUsage, code)
}

func TestRunWorkflow(t *testing.T) {
	def := writeFile(t, "triage.yaml", triageDefinition)
	cfg := writeFile(t, "config.yaml", quietConfig)

	code, out, errOut := runCLI("run", def,
		"--config", cfg,
		"--var", "fallback=personal",
		"--input", `{"from":"ada@example.com","subject":"Lunch on Friday","body":"see you there"}`)
	require.Equal(t, exitOK, code, errOut)

	var res workflow.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, workflow.ExecutionStatusCompleted, res.Status)
	classified, ok := res.Results["classify"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "personal", classified["label"])
	require.Len(t, res.Path, 3)
}

func TestRunWorkflow_Errors(t *testing.T) {
	def := writeFile(t, "triage.yaml", triageDefinition)
	cfg := writeFile(t, "config.yaml", quietConfig)

	code, _, _ := runCLI("run")
	assert.Equal(t, exitUsage, code)

	code, _, errOut := runCLI("run", def, "--input", "[1,2]")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "Invalid input")

	code, _, _ = runCLI("run", def, "--var", "novalue")
	assert.Equal(t, exitUsage, code)

	code, _, errOut = runCLI("run", filepath.Join(t.TempDir(), "missing.yaml"), "--config", cfg)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "Invalid definition")
}

func TestReadInput(t *testing.T) {
	in, err := readInput("", "")
	require.NoError(t, err)
	assert.Empty(t, in)

	in, err = readInput(`{"subject":"hi"}`, "")
	require.NoError(t, err)
	assert.Equal(t, "hi", in["subject"])

	file := writeFile(t, "input.json", `{"priority": 4}`)
	in, err = readInput("", file)
	require.NoError(t, err)
	assert.Equal(t, float64(4), in["priority"])

	_, err = readInput("{}", file)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestVarFlag(t *testing.T) {
	v := varFlag{}
	require.NoError(t, v.Set("threshold=3"))
	require.NoError(t, v.Set("urgent=true"))
	require.NoError(t, v.Set("team=finance"))
	require.NoError(t, v.Set("empty="))

	assert.Equal(t, 3, v["threshold"])
	assert.Equal(t, true, v["urgent"])
	assert.Equal(t, "finance", v["team"])
	assert.Equal(t, "", v["empty"])
	assert.Equal(t, "empty,team,threshold,urgent", v.String())

	assert.Error(t, v.Set("=x"))
	assert.Error(t, v.Set("plain"))
}

func TestEngineConfig(t *testing.T) {
	c := config.DefaultEngineConfig()
	ec := engineConfig(c)
	assert.Equal(t, workflow.StrategySequential, ec.DefaultStrategy)
	require.NotNil(t, ec.DefaultMaxRetries)
	assert.Equal(t, 3, *ec.DefaultMaxRetries)
	assert.Equal(t, time.Second, ec.DefaultRetryDelay)
	assert.Nil(t, ec.CircuitBreaker)

	c.CircuitBreaker = config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 2}
	ec = engineConfig(c)
	require.NotNil(t, ec.CircuitBreaker)
	assert.Equal(t, 2, ec.CircuitBreaker.FailureThreshold)
	assert.Equal(t, workflow.DefaultCircuitBreakerConfig().OpenTimeout, ec.CircuitBreaker.OpenTimeout)
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a
}

func TestNewApp_Close(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Engine.CircuitBreaker.Enabled = true })
	assert.NotNil(t, a.collector)
	assert.NotNil(t, a.engine.CircuitBreakers())

	require.NoError(t, a.close(context.Background()))
	require.NoError(t, a.close(context.Background()))
}

func TestHandler(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Server.APIKeys = []string{"secret"}
		c.Server.RateLimitRPS = 0
	})
	srv := httptest.NewServer(newHandler(context.Background(), a))
	t.Cleanup(srv.Close)

	do := func(method, path, body string, headers map[string]string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp = do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")

	def := `{"name":"api","nodes":[{"id":"in","type":"trigger"},{"id":"done","type":"noop"}],` +
		`"connections":[{"from":"in","to":"done"}]}`
	resp = do(http.MethodPost, "/api/v1/workflows", def, map[string]string{"X-Owner-ID": "owner-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	auth := map[string]string{"X-Owner-ID": "owner-1", "X-API-Key": "secret", "Content-Type": "application/json"}
	resp = do(http.MethodPost, "/api/v1/workflows", def, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.True(t, created.Success)
	require.NotEmpty(t, created.Data.ID)

	resp = do(http.MethodPost, "/api/v1/workflows/"+created.Data.ID+"/executions", `{"input":{"k":"v"}}`, auth)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodGet, "/api/v1/workflows/"+created.Data.ID+"/executions", "", auth)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeMigrator struct {
	calls  []string
	failUp bool
	closed bool
}

func (m *fakeMigrator) Up(context.Context) error {
	m.calls = append(m.calls, "up")
	if m.failUp {
		return errors.New("dirty database")
	}
	return nil
}
func (m *fakeMigrator) Down(context.Context) error { m.calls = append(m.calls, "down"); return nil }
func (m *fakeMigrator) Steps(context.Context, int) error {
	m.calls = append(m.calls, "steps")
	return nil
}
func (m *fakeMigrator) Force(context.Context, int) error {
	m.calls = append(m.calls, "force")
	return nil
}
func (m *fakeMigrator) Version(context.Context) (uint, bool, error) { return 2, false, nil }
func (m *fakeMigrator) Status(context.Context) ([]migration.MigrationStatus, error) {
	return nil, nil
}
func (m *fakeMigrator) Info(context.Context) (*migration.MigrationInfo, error) {
	return &migration.MigrationInfo{CurrentVersion: 2}, nil
}
func (m *fakeMigrator) Close() error { m.closed = true; return nil }

func stubMigrator(t *testing.T, m *fakeMigrator) *config.DatabaseConfig {
	t.Helper()
	var seen config.DatabaseConfig
	orig := newMigrator
	newMigrator = func(cfg config.DatabaseConfig, _ *zap.Logger) (migration.Migrator, error) {
		seen = cfg
		return m, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &seen
}

func TestMigrate(t *testing.T) {
	m := &fakeMigrator{}
	seen := stubMigrator(t, m)

	code, out, _ := runCLI("migrate", "up", "--db-type", "sqlite")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Running migrations...")
	assert.Contains(t, out, "Current version: 2")
	assert.Equal(t, "sqlite", seen.Driver)
	assert.True(t, m.closed)

	code, _, _ = runCLI("migrate", "steps", "-1")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, []string{"up", "steps"}, m.calls)

	code, _, errOut := runCLI("migrate", "force")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "requires exactly one numeric argument")

	code, out, _ = runCLI("migrate")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Migration subcommands:")
}

func TestMigrate_Failure(t *testing.T) {
	stubMigrator(t, &fakeMigrator{failUp: true})

	code, _, errOut := runCLI("migrate", "up")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "dirty database")
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "")

	rest, err := parseInterspersed(fs, []string{"a.yaml", "-2", "--name", "x", "b.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "-2", "b.yaml"}, rest)
	assert.Equal(t, "x", *name)

	_, err = parseInterspersed(fs, []string{"--unknown"})
	assert.Error(t, err)
}
