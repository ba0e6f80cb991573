// =============================================================================
// MailFlow 主入口
// =============================================================================
// 使用方法:
//
//	mailflow run workflow.yaml --input '{"raw": "..."}'   # 本地执行一次
//	mailflow validate workflow.yaml                      # 校验定义文件
//	mailflow serve --config config.yaml                  # 启动 HTTP 服务
//	mailflow migrate up                                  # 运行数据库迁移
//	mailflow version                                     # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 分发子命令并返回进程退出码
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return runWorkflow(ctx, args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "serve":
		return runServe(ctx, args[1:], stderr)
	case "migrate":
		return runMigrate(ctx, args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MailFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `MailFlow - email automation workflow engine

Usage:
  mailflow <command> [options]

Commands:
  run       Parse a workflow definition and execute it once
  validate  Validate workflow definition files
  serve     Start the HTTP API server
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>        Path to configuration file (YAML)
  --input <json>         Run input as a JSON object
  --input-file <path>    Read the run input from a JSON file
  --var <name=value>     Set a definition variable (repeatable, YAML-typed value)
  --strategy <name>      Override the orchestration strategy
  --owner <id>           Owner id of the created workflow (default "cli")

Options for 'serve':
  --config <path>        Path to configuration file (YAML)

Migration subcommands:
  migrate up             Apply all pending migrations
  migrate down           Roll back the last migration
  migrate steps <n>      Apply (n > 0) or roll back (n < 0) n migrations
  migrate force <v>      Force set migration version
  migrate version        Show current migration version
  migrate status         Show migration status
  migrate info           Show applied and pending totals

Examples:
  mailflow validate flows/*.yaml
  mailflow run flows/triage.yaml --input-file mail.json --var threshold=5
  mailflow serve --config /etc/mailflow/config.yaml
  mailflow migrate up --config /etc/mailflow/config.yaml`)
}
