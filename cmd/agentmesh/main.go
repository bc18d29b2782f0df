// agentmesh 服务入口。
//
// 使用方法:
//
//	agentmesh serve                        # 启动消息路由服务
//	agentmesh serve --config mesh.yaml     # 指定配置文件
//	agentmesh version                      # 显示版本信息
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmesh/artifact"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/dedupe"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/router"
	"github.com/BaSui01/agentmesh/task"
	"github.com/BaSui01/agentmesh/types"
)

// Build metadata, injected via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "agentmesh: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("agentmesh %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: agentmesh <command> [flags]

commands:
  serve      start the message routing service
  version    print build information`)
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML configuration")
	metricsAddr := flags.String("metrics-addr", ":9091", "metrics listen address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewLoader().
		WithConfigPath(*configPath).
		WithValidator(func(c *config.Config) error { return c.Validate() }).
		Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting agentmesh",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
	)

	collector := metrics.NewCollector("agentmesh", logger)

	store, err := buildArtifactStore(cfg.Artifact)
	if err != nil {
		return fmt.Errorf("build artifact store: %w", err)
	}
	artifacts := artifact.NewManager(store, types.SystemClock{}, logger)

	tasks := task.NewManager(types.SystemClock{}, logger, task.WithCollector(collector))

	registry := router.NewRegistry()
	routerOpts := []router.Option{router.WithMetrics(collector)}
	if cfg.Redis.Addr != "" {
		var index *dedupe.Index
		index, err = dedupe.New(dedupe.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect dedupe index: %w", err)
		}
		defer index.Close() //nolint:errcheck
		routerOpts = append(routerOpts, router.WithDeliveryIndex(index))
	}

	r := router.New(router.Config{
		EnableRouting:   cfg.Protocol.EnableRouting,
		EnableMultipart: cfg.Protocol.EnableMultipart,
		MaxMessageSize:  cfg.Protocol.MaxMessageSize,
		DeliveryRate:    cfg.Protocol.DeliveryRate,
		DeliveryBurst:   cfg.Protocol.DeliveryBurst,
	}, registry, logger, routerOpts...)
	defer r.Close()

	// Built-in echo agent, useful for smoke testing a fresh deployment.
	registry.Register("echo", router.TargetFunc(func(_ context.Context, d router.Delivery) error {
		logger.Info("echo agent received message",
			zap.String("message_id", d.Message.ID),
			zap.String("sender", d.Message.Sender),
			zap.Int("parts", len(d.Parts)),
		)
		return nil
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Task.ReaperInterval > 0 {
		tasks.StartReaper(ctx, cfg.Task.ReaperInterval)
		defer tasks.Stop()
	}
	if cfg.Artifact.CleanupInterval > 0 {
		go runArtifactCleanup(ctx, artifacts, cfg.Artifact.CleanupInterval, logger)
	}

	metricsServer := &http.Server{
		Addr:              *metricsAddr,
		Handler:           promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", *metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Smoke-test delivery through the full pipeline, building content
	// through the configured handler gate.
	handlers := message.NewHandlers(cfg.Protocol.HandlerFlags())
	if err := routeStartupProbe(ctx, r, cfg, handlers); err != nil {
		logger.Warn("startup message not delivered", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}

// routeStartupProbe sends one message to the echo agent. When multipart is
// enabled the payload travels as a text part constructed through the
// content-handler gate, so a misconfigured handler set surfaces at startup.
func routeStartupProbe(ctx context.Context, r *router.Router, cfg *config.Config, handlers message.Handlers) error {
	opts := []message.Option{
		message.WithTTL(cfg.Protocol.MessageTimeout),
		message.WithMaxRetries(cfg.Protocol.MaxRetries),
	}

	if cfg.Protocol.EnableMultipart {
		part, err := handlers.NewPart("startup", types.PartTypeText, "agentmesh online")
		if err != nil {
			return fmt.Errorf("build startup part: %w", err)
		}
		mp := message.NewMultiPart("agentmesh", []string{"echo"}, opts...)
		if err := mp.AddPart(part); err != nil {
			return err
		}
		return r.RouteMultiPart(ctx, mp)
	}

	msg := message.NewRequest("agentmesh", []string{"echo"},
		map[string]any{"event": "startup"}, opts...)
	return r.Route(ctx, msg)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}
	return zapCfg.Build()
}

func buildArtifactStore(cfg config.ArtifactConfig) (artifact.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return artifact.NewSQLiteStore(cfg.SQLitePath)
	default:
		return artifact.NewMemoryStore(), nil
	}
}

func runArtifactCleanup(ctx context.Context, m *artifact.Manager, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.Cleanup(ctx)
			if err != nil {
				logger.Warn("artifact cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("expired artifacts removed", zap.Int("count", removed))
			}
		}
	}
}
