package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/api/handlers"
	"github.com/BaSui01/mailflow/internal/server"
	"github.com/BaSui01/mailflow/internal/tlsutil"
)

// publicPaths 免 API Key 认证
var publicPaths = []string{"/health", "/healthz", "/ready", "/version", "/metrics"}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting MailFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitFailure
	}
	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	// 限流清理协程随 serve 生命周期结束
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvCfg := server.FromConfig(cfg.Server)
	if cfg.Server.TLSEnabled() {
		tlsCfg, err := tlsutil.ServerTLSConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			logger.Error("invalid TLS configuration", zap.Error(err))
			return exitFailure
		}
		srvCfg.TLSConfig = tlsCfg
	}

	mgr := server.NewManager(newHandler(handlerCtx, a), srvCfg, logger)
	if err := mgr.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return exitFailure
	}

	code := exitOK
	if err := mgr.Wait(ctx); err != nil {
		logger.Error("server exited", zap.Error(err))
		code = exitFailure
	}
	logger.Info("shutting down", zap.Int("active_executions", len(a.engine.ActiveExecutions())))
	if err := mgr.Shutdown(context.WithoutCancel(ctx)); err != nil {
		code = exitFailure
	}
	logger.Info("MailFlow stopped")
	return code
}

// newHandler 注册路由并套上中间件链
func newHandler(ctx context.Context, a *app) http.Handler {
	logger := a.logger
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(logger)
	health.RegisterCheck(handlers.NewPingCheck("store", a.store.Ping))
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	if a.collector != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
			Registry:          a.registry,
			EnableOpenMetrics: true,
		}))
	}

	handlers.NewWorkflowHandler(a.engine, a.store, logger).Register(mux)

	srv := a.cfg.Server
	return Chain(mux,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		OTelTracing(nil),
		RateLimiter(ctx, srv.RateLimitRPS, srv.RateLimitBurst, logger),
		APIKeyAuth(srv.APIKeys, publicPaths, logger),
	)
}
