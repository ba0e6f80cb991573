package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/mailflow/workflow"
	"github.com/BaSui01/mailflow/workflow/dsl"
)

// varFlag 收集可重复的 --var name=value，值按 YAML 标量解析（3 → int，true → bool）
type varFlag map[string]any

func (v varFlag) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (v varFlag) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	v[name] = value
	return nil
}

// parseInterspersed 允许标志出现在位置参数之后（flag 包遇到首个位置参数即停止）。
// 负数（如 migrate steps -1）按位置参数处理。
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err == nil {
			positional = append(positional, args[0])
			args = args[1:]
			continue
		}
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	return positional, nil
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runWorkflow(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	inputJSON := fs.String("input", "", "Run input as a JSON object")
	inputFile := fs.String("input-file", "", "Read the run input from a JSON file")
	strategy := fs.String("strategy", "", "Override the orchestration strategy")
	owner := fs.String("owner", "cli", "Owner id of the created workflow")
	vars := varFlag{}
	fs.Var(vars, "var", "Definition variable name=value (repeatable)")

	files, err := parseInterspersed(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(files) != 1 {
		fmt.Fprintln(stderr, "run requires exactly one definition file")
		return exitUsage
	}

	input, err := readInput(*inputJSON, *inputFile)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid input: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	// stdout 只输出结果
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	def, err := dsl.NewParser().WithVariables(vars).ParseFile(files[0])
	if err != nil {
		fmt.Fprintf(stderr, "Invalid definition %s: %v\n", files[0], err)
		return exitFailure
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Startup failed: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	wf, err := a.engine.CreateWorkflow(ctx, *owner, *def)
	if err != nil {
		fmt.Fprintf(stderr, "Create workflow failed: %v\n", err)
		return exitFailure
	}
	logger.Info("workflow created", zap.String("workflow_id", wf.ID), zap.String("name", wf.Name))

	res, err := a.engine.ExecuteWorkflow(ctx, wf.ID, input, workflow.RunOptions{
		Strategy: workflow.OrchestrationStrategy(*strategy),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Execution failed: %v\n", err)
		return exitFailure
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(stderr, "Encode result: %v\n", err)
		return exitFailure
	}
	if !res.Success {
		return exitFailure
	}
	return exitOK
}

// readInput 解析 --input 或 --input-file（二者互斥），缺省为空对象
func readInput(inline, file string) (map[string]any, error) {
	if inline != "" && file != "" {
		return nil, errors.New("--input and --input-file are mutually exclusive")
	}
	data := []byte(inline)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	}
	input := map[string]any{}
	if len(data) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	vars := varFlag{}
	fs.Var(vars, "var", "Definition variable name=value (repeatable)")

	files, err := parseInterspersed(fs, args)
	if err != nil {
		return exitUsage
	}
	if len(files) == 0 {
		fmt.Fprintln(stderr, "validate requires at least one definition file")
		return exitUsage
	}

	code := exitOK
	for _, file := range files {
		def, err := dsl.NewParser().WithVariables(vars).ParseFile(file)
		if err != nil {
			fmt.Fprintf(stdout, "FAIL %s: %v\n", file, err)
			code = exitFailure
			continue
		}
		fmt.Fprintf(stdout, "ok   %s (%d nodes, %d connections)\n", file, len(def.Nodes), len(def.Connections))
	}
	return code
}
