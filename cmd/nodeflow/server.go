package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/events"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/internal/server"
	"github.com/BaSui01/nodeflow/internal/telemetry"
	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/runner"
	"github.com/BaSui01/nodeflow/templates"
	"github.com/BaSui01/nodeflow/workflow"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the NodeFlow API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			logger, level := newLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting NodeFlow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				srv.EnableHotReload(path, level)
			}
			if err := srv.Run(ctx); err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			logger.Info("NodeFlow stopped")
			return nil
		},
	}
}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装引擎、存储与 API，并管理它们的生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	otel      *telemetry.Providers
	collector *metrics.Collector
	backends  *backends
	engine    *engine
	monitor   *resilience.HeartbeatMonitor
	hub       *events.Hub
	runner    *runner.Runner
	catalog   *templates.Catalog
	watcher   *templates.Watcher
	reloader  *config.HotReloadManager

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 初始化全部组件；返回错误时已打开的资源会被释放
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Server, err error) {
	s := &Server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.release(context.WithoutCancel(ctx))
		}
	}()

	// 1. 遥测与指标
	s.otel, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		// 遥测失败不影响服务，Providers 为 nil 时退回全局 provider
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		s.otel, err = nil, nil
	}
	s.collector = metrics.NewCollector("nodeflow", logger)

	// 2. 存储与引擎
	if s.backends, err = openBackends(ctx, cfg, s.collector, logger); err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	if s.engine, err = newEngine(cfg, logger); err != nil {
		return nil, err
	}
	s.monitor = resilience.NewHeartbeatMonitor(logger)
	s.hub = events.NewHub(events.WithLogger(logger))

	exec := workflow.NewExecutor(s.engine.registry, s.engine.executorOptions(cfg, s.backends, logger,
		workflow.WithMetrics(s.metricsRecorder()),
		workflow.WithHeartbeatMonitor(s.monitor),
		workflow.WithExecutorEventEmitter(s.hub.Emitter()),
		workflow.WithTracerProvider(s.otel.TracerProvider()),
	)...)
	s.runner = runner.New(exec,
		runner.WithMaxConcurrentRuns(cfg.Engine.MaxConcurrentRuns),
		runner.WithAdmissionRecorder(s.collector),
		runner.WithLogger(logger),
	)

	// 3. 模板目录
	s.catalog = templates.NewCatalog(s.engine.validator, logger)
	if dir := cfg.Engine.DefinitionsDir; dir != "" {
		if err := s.catalog.Load(dir); err != nil {
			logger.Warn("failed to load templates", zap.String("dir", dir), zap.Error(err))
		}
		if s.watcher, err = templates.NewWatcher(s.catalog, templates.WithWatcherLogger(logger)); err != nil {
			return nil, err
		}
	}

	// 4. HTTP 服务
	s.httpManager = server.NewManager("api", s.handler(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// EnableHotReload 监听配置文件；Log.Level 立即生效，其余字段记录后等待重启
func (s *Server) EnableHotReload(path string, level zap.AtomicLevel) {
	s.reloader = config.NewHotReloadManager(s.cfg,
		config.WithConfigPath(path),
		config.WithHotReloadLogger(s.logger),
	)
	s.reloader.OnChange(func(change config.ConfigChange) {
		if change.Path != "Log.Level" {
			return
		}
		if lvl, ok := change.NewValue.(string); ok {
			level.SetLevel(parseLevel(lvl))
		}
	})
}

func (s *Server) metricsRecorder() workflow.MetricsRecorder {
	if !s.otel.Enabled() {
		return s.collector
	}
	rec, err := telemetry.NewRecorder(s.otel.MeterProvider())
	if err != nil {
		s.logger.Warn("otel metrics disabled", zap.Error(err))
		return s.collector
	}
	return metrics.Tee(s.collector, rec)
}

// =============================================================================
// 🌐 路由
// =============================================================================

func (s *Server) handler(ctx context.Context) http.Handler {
	logger := s.logger

	health := handlers.NewHealthHandler(logger)
	health.RegisterCheck(handlers.NewPingCheck("checkpoint_store", s.backends.store.Ping))
	if s.backends.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.backends.cache.Ping))
	}
	if s.backends.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.backends.pool.Ping))
	}
	if s.engine.breakers != nil {
		health.RegisterCheck(handlers.NewBreakerCheck(s.engine.breakers))
	}
	health.RegisterCheck(handlers.NewCapacityCheck(func() int { return len(s.runner.Active()) }, s.runner.MaxConcurrentRuns()))

	workflows := handlers.NewWorkflowHandler(s.engine.validator, s.engine.estimator, logger)
	caps := handlers.NewCapabilityHandler(s.engine.registry)
	tmpls := handlers.NewTemplateHandler(s.catalog, logger)
	runs := handlers.NewRunHandler(s.runner, s.catalog, logger)
	stream := handlers.NewEventsHandler(s.hub, s.backends.store, s.runner.IsActive, logger,
		handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...))

	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	// API 路由
	mux.HandleFunc("GET /v1/capabilities", caps.HandleList)
	mux.HandleFunc("POST /v1/workflows/validate", workflows.HandleValidate)
	mux.HandleFunc("POST /v1/workflows/estimate", workflows.HandleEstimate)
	mux.HandleFunc("GET /v1/templates", tmpls.HandleList)
	mux.HandleFunc("GET /v1/templates/{id}", tmpls.HandleGet)
	mux.HandleFunc("POST /v1/runs", runs.HandleCreate)
	mux.HandleFunc("GET /v1/runs", runs.HandleList)
	mux.HandleFunc("GET /v1/runs/{id}", runs.HandleGet)
	mux.HandleFunc("POST /v1/runs/{id}/resume", runs.HandleResume)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", runs.HandleCancel)
	mux.HandleFunc("GET /v1/runs/{id}/events", stream.HandleEvents)

	middlewares := []Middleware{
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(s.otel.TracerProvider()),
		MetricsMiddleware(s.collector),
		RequestLogger(logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, logger),
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, logger))
	}
	return Chain(mux, middlewares...)
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Run 启动全部服务并阻塞到 ctx 结束，然后按顺序关闭
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	g.Go(func() error {
		s.monitor.Watch(gctx, s.cfg.Engine.HeartbeatCheckInterval, s.cfg.Engine.HeartbeatTimeout,
			func(l resilience.NodeLiveness) { s.collector.RecordStall(l.NodeType) })
		return nil
	})
	g.Go(func() error { return s.backends.runBadgerGC(gctx, s.cfg.Badger.GCInterval) })
	if s.backends.cache != nil {
		g.Go(func() error { return s.backends.cache.Run(gctx) })
	}
	if s.backends.pool != nil {
		g.Go(func() error { return s.backends.pool.Run(gctx, s.collector) })
	}
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}
	if s.reloader != nil {
		g.Go(func() error { return s.reloader.Run(gctx) })
	}

	// 停止接收新运行，等待后台运行结束；超时后取消剩余运行
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.runner.Shutdown(shutdownCtx)
	})

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("templates", s.catalog.Len()),
		zap.String("checkpoint_driver", s.cfg.Checkpoint.Driver),
	)

	err := g.Wait()
	s.release(context.WithoutCancel(ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// release 关闭事件流、存储与遥测
func (s *Server) release(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.hub != nil {
		s.hub.Close()
	}
	if s.backends != nil {
		if err := s.backends.Close(); err != nil {
			s.logger.Error("checkpoint store shutdown error", zap.Error(err))
		}
	}
	if s.otel.Enabled() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
