package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagecache/internal/cache"
	"github.com/any-hub/imagecache/internal/config"
	"github.com/any-hub/imagecache/internal/fetcher"
	"github.com/any-hub/imagecache/internal/imagecache"
	"github.com/any-hub/imagecache/internal/metrics"
	"github.com/any-hub/imagecache/internal/server"
	"github.com/any-hub/imagecache/internal/server/routes"
)

// service 聚合一次运行所需的全部组件，便于统一启动与停机。
type service struct {
	cfg    *config.Config
	logger *logrus.Logger
	cache  *imagecache.Cache
	leases *server.LeaseBook
	app    *fiber.App
}

func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	imageFetcher := fetcher.New(httpClient, logger, cfg.Global.FetchOptions())
	collector := metrics.New()

	imageCache, err := imagecache.New(imagecache.Options{
		Dir:     store.Root(),
		Fetcher: imageFetcher,
		Store:   store,
		Logger:  logger,
		Hooks:   collector,
	})
	if err != nil {
		return nil, err
	}

	leases := server.NewLeaseBook(imageCache, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Leases:     leases,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, leases, collector.Handler())

	return &service{
		cfg:    cfg,
		logger: logger,
		cache:  imageCache,
		leases: leases,
		app:    app,
	}, nil
}

// serve 阻塞监听直到 ctx 结束或服务异常退出，随后执行优雅停机。
func (s *service) serve(ctx context.Context) error {
	port := s.cfg.Global.ListenPort
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	var serveErr error
	select {
	case serveErr = <-listenErr:
	case <-ctx.Done():
		s.logger.WithField("action", "shutdown").Info("收到退出信号，开始停机")
	}

	timeout := s.cfg.Global.ShutdownTimeout.DurationValue()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(serveErr, s.shutdown(shutdownCtx))
}

// shutdown 依次停止 HTTP 服务、归还所有租约并关闭缓存（删除残留文件）。
func (s *service) shutdown(ctx context.Context) error {
	httpErr := s.app.ShutdownWithContext(ctx)
	if errors.Is(httpErr, fiber.ErrNotRunning) {
		httpErr = nil
	}
	logShutdownError(s.logger, "http", httpErr)

	leaseErr := s.leases.ReleaseAll()
	logShutdownError(s.logger, "leases", leaseErr)

	cacheErr := s.cache.Close(ctx)
	logShutdownError(s.logger, "cache", cacheErr)

	err := errors.Join(httpErr, leaseErr, cacheErr)
	if err == nil {
		s.logger.WithField("action", "shutdown").Info("停机完成")
	}
	return err
}
