package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/donnelly-adventures/adventures/internal/api"
	"github.com/donnelly-adventures/adventures/internal/config"
	"github.com/donnelly-adventures/adventures/internal/gateway"
	"github.com/donnelly-adventures/adventures/internal/journal"
	"github.com/donnelly-adventures/adventures/internal/logging"
	"github.com/donnelly-adventures/adventures/internal/media"
	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
	"github.com/donnelly-adventures/adventures/internal/server/routes"
	"github.com/donnelly-adventures/adventures/internal/version"
)

// offlineCacheDir 是 StoragePath 下保存离线缓存的 LevelDB 目录。
const offlineCacheDir = "offline"

// services 持有进程内共享的组件，所有请求复用同一套注册表与存储实例。
type services struct {
	mu     sync.Mutex
	cfg    *config.Config
	logger *logrus.Logger

	cacheDB  *leveldb.DB
	kvDB     *leveldb.DB
	backend  journal.Backend
	registry *server.SiteRegistry
	sites    *gateway.Sites
	app      *fiber.App
}

func buildServices(cfg *config.Config, logger *logrus.Logger) (*services, error) {
	svc := &services{cfg: cfg, logger: logger}

	host, err := buildMediaHost(cfg.Media, server.NewMediaClient(cfg))
	if err != nil {
		return nil, fmt.Errorf("媒体托管: %w", err)
	}

	svc.cacheDB, err = offline.OpenLevelDB(filepath.Join(cfg.Global.StoragePath, offlineCacheDir))
	if err != nil {
		return nil, fmt.Errorf("离线缓存: %w", err)
	}

	svc.backend, svc.kvDB, err = buildBackend(cfg, host, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("journal 后端: %w", err)
	}

	svc.registry, err = server.NewSiteRegistry(cfg)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("站点注册表: %w", err)
	}

	fetcher := gateway.NewOriginFetcher(server.NewOriginClient(cfg), 0)
	cacheDB := svc.cacheDB
	svc.sites, err = gateway.NewSites(gateway.SitesOptions{
		Storage: func(site string) offline.Storage {
			return offline.NewLevelDBStorage(cacheDB, site)
		},
		Fetcher:           fetcher,
		Logger:            logger,
		RevalidateTimeout: cfg.Global.RevalidateTimeout.DurationValue(),
	})
	if err != nil {
		svc.Close()
		return nil, err
	}

	svc.app, err = buildApp(cfg, logger, svc.registry, svc.sites, fetcher, svc.backend)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// buildMediaHost 按 Provider 创建媒体托管客户端。
func buildMediaHost(cfg config.MediaConfig, client *http.Client) (media.Host, error) {
	switch cfg.Provider {
	case config.MediaMinIO:
		host, err := media.NewMinIO(media.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Folder:    cfg.Folder,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return host, nil
	case config.MediaCloudinary:
		host, err := media.NewCloudinary(media.CloudinaryConfig{
			CloudName: cfg.CloudName,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			APIBase:   cfg.APIBase,
			Folder:    cfg.Folder,
		}, client)
		if err != nil {
			return nil, err
		}
		return host, nil
	default:
		return nil, fmt.Errorf("unsupported media provider %q", cfg.Provider)
	}
}

// buildBackend 按变体创建 journal 后端；edge 变体额外返回需要关闭的 KV 数据库。
func buildBackend(cfg *config.Config, host media.Host, logger *logrus.Logger) (journal.Backend, *leveldb.DB, error) {
	switch cfg.Backend.Variant {
	case config.BackendEdge:
		kv, err := offline.OpenLevelDB(cfg.Backend.KVPath)
		if err != nil {
			return nil, nil, err
		}
		backend, err := journal.NewEdge(journal.EdgeOptions{
			Tag:        cfg.Backend.Tag,
			MaxResults: cfg.Backend.MaxResults,
		}, host, kv)
		if err != nil {
			_ = kv.Close()
			return nil, nil, err
		}
		return backend, kv, nil
	default:
		backend, err := journal.NewPersistent(journal.PersistentOptions{
			DataFile: cfg.Backend.DataFile,
			Tag:      cfg.Backend.Tag,
			Logger:   logger,
		}, host)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	}
}

// buildApp 组装中间件与路由：站点 Host 走网关，其余依次是诊断接口、REST API 与静态文件。
func buildApp(
	cfg *config.Config,
	logger *logrus.Logger,
	registry *server.SiteRegistry,
	sites *gateway.Sites,
	fetcher offline.Fetcher,
	backend journal.Backend,
) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Gateway:    gateway.NewHandler(sites, fetcher, logger),
		ListenPort: cfg.Global.ListenPort,
		BodyLimit:  server.BodyLimitFor(cfg.Global.MaxUploadSize),
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterSiteRoutes(app, registry, sites)

	handler, err := api.NewHandler(api.Options{
		Backend:       backend,
		Logger:        logger,
		MaxUploadSize: cfg.Global.MaxUploadSize,
		MediaProvider: cfg.Media.Provider,
		MediaAuthMode: cfg.Media.AuthMode(),
	})
	if err != nil {
		return nil, err
	}
	handler.Register(app)
	server.MountStatic(app, cfg.Global.PublicDir)
	return app, nil
}

// installSites 安装所有站点的首个版本。站点 Origin 可能就是本进程，
// 因此安装在后台进行，完成前请求直接透传。
func (s *services) installSites(ctx context.Context) {
	go func() {
		if err := s.installPending(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{"action": "install"}).
				WithError(err).Warn("部分站点安装失败，相关请求将透传到 Origin")
		}
	}()
}

// installPending 与 reload 共用 s.mu：路由在锁内读取，已由热加载装好的站点跳过，
// 启动时的旧快照不会覆盖更新的版本。
func (s *services) installPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []server.SiteRoute
	for _, route := range s.registry.List() {
		if reg := s.sites.Registration(route.Config.Name); reg != nil && (reg.Active() != nil || reg.Waiting() != nil) {
			continue
		}
		pending = append(pending, route)
	}
	if len(pending) == 0 {
		return nil
	}
	return s.sites.InstallAll(ctx, pending)
}

// watchConfig 启用配置热加载。
func (s *services) watchConfig(configPath string) error {
	return config.Watch(configPath, func(next *config.Config, err error) {
		s.reload(context.Background(), configPath, next, err)
	})
}

// reload 只处理站点变化：新增或指纹变化的站点安装新版本，被删除的站点停止拦截。
// 全局、后端与媒体配置需要重启进程才能生效。
func (s *services) reload(ctx context.Context, configPath string, next *config.Config, loadErr error) {
	fields := logging.BaseFields("config_reload", configPath)
	if loadErr != nil {
		if field := config.FieldOf(loadErr); field != "" {
			fields["field"] = field
		}
		s.logger.WithFields(fields).WithError(loadErr).Warn("配置重新加载失败，保留当前配置")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if next.Global != s.cfg.Global || next.Backend != s.cfg.Backend || next.Media != s.cfg.Media {
		s.logger.WithFields(fields).Warn("全局、后端或媒体配置已变化，需要重启后生效")
	}

	changed, removed := config.ChangedSites(s.cfg, next)
	if err := s.registry.Replace(next); err != nil {
		s.logger.WithFields(fields).WithError(err).Error("站点注册表更新失败")
		return
	}
	for _, name := range removed {
		s.sites.Remove(name)
	}
	for _, site := range changed {
		route, ok := s.registry.Get(site.Name)
		if !ok {
			continue
		}
		if err := s.sites.Install(ctx, *route); err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("站点新版本安装失败，继续使用旧版本")
		}
	}

	// 站点以外的字段保留启动时的值，避免与正在运行的组件不一致。
	merged := *s.cfg
	merged.Sites = next.Sites
	s.cfg = &merged

	fields["changed"] = config.SiteNames(changed)
	fields["removed"] = removed
	s.logger.WithFields(fields).Info("配置已重新加载")
}

// serve 启动 HTTP 服务，收到 SIGINT/SIGTERM 后优雅退出。
func (s *services) serve(configPath string) error {
	port := s.cfg.Global.ListenPort

	fields := logging.BaseFields("startup", configPath)
	fields["sites"] = config.SiteNames(s.cfg.Sites)
	fields["listen_port"] = port
	fields["backend"] = s.cfg.Backend.Variant
	fields["media"] = s.cfg.Media.Provider
	fields["media_auth"] = s.cfg.Media.AuthMode()
	fields["version"] = version.Full()
	s.logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("shutdown_failed")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// Close 等待后台再验证结束并关闭数据库。
func (s *services) Close() {
	if s.sites != nil {
		s.sites.Wait()
	}
	var errs []error
	if s.kvDB != nil {
		errs = append(errs, s.kvDB.Close())
	}
	if s.cacheDB != nil {
		errs = append(errs, s.cacheDB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WithError(err).Warn("close_failed")
	}
}
