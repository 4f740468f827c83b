package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/pwa-cache/internal/cache"
	"github.com/any-hub/pwa-cache/internal/config"
	"github.com/any-hub/pwa-cache/internal/logging"
	"github.com/any-hub/pwa-cache/internal/metrics"
	"github.com/any-hub/pwa-cache/internal/server"
	"github.com/any-hub/pwa-cache/internal/server/routes"
)

const shutdownTimeout = 10 * time.Second

func buildHTTPApp(
	cfg *config.Config,
	registry *server.AppRegistry,
	proxyHandler server.ProxyHandler,
	store cache.Store,
	recorder *metrics.Recorder,
	logger *logrus.Logger,
) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterWorkerRoutes(app, registry, store)
	routes.RegisterMetricsRoute(app, recorder)
	return app, nil
}

// installApps 为每个 app 并发安装并激活当前配置的版本，返回失败的 app 数量。
// 单个 app 失败只记录日志：旧控制者（如有）继续服务，否则请求直接回源。
func installApps(ctx context.Context, registry *server.AppRegistry, deps server.WorkerDeps, logger *logrus.Logger) int {
	routeList := registry.List()
	failed := make([]bool, len(routeList))

	var group errgroup.Group
	for i, route := range routeList {
		group.Go(func() error {
			if err := route.Registration.Register(ctx, route.NewWorker(deps)); err != nil {
				failed[i] = true
				logger.WithFields(logging.WorkerFields("worker_install", route.Config.Name, route.Config.CacheVersion)).
					WithError(err).Error("worker registration failed")
			}
			return nil
		})
	}
	_ = group.Wait()

	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	return count
}

// reloadConfig 重新读取配置并为 CacheVersion 变化的 app 注册新 worker。
// 监听端口、日志与存储驱动等全局参数需要重启进程才能生效。
func reloadConfig(ctx context.Context, path string, registry *server.AppRegistry, deps server.WorkerDeps, logger *logrus.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := registry.Reload(cfg); err != nil {
		return err
	}
	fields := logging.BaseFields("config_reload", path)
	fields["versions"] = config.Versions(cfg.Apps)
	fields["failed"] = installApps(ctx, registry, deps, logger)
	logger.WithFields(fields).Info("配置已重新加载")
	return nil
}

// watchSignals 处理 SIGHUP（重载配置）与 SIGINT/SIGTERM（优雅退出）。
func watchSignals(ctx context.Context, app *fiber.App, path string, registry *server.AppRegistry, deps server.WorkerDeps, logger *logrus.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := reloadConfig(ctx, path, registry, deps, logger); err != nil {
					logger.WithFields(logging.BaseFields("config_reload", path)).
						WithError(err).Error("配置重载失败，继续使用旧配置")
				}
				continue
			}
			logger.WithFields(logrus.Fields{"action": "shutdown", "signal": sig.String()}).Info("收到退出信号")
			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				logger.WithError(err).Warn("shutdown failed")
			}
			return
		}
	}
}
