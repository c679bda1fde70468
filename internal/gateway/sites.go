package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
)

// StorageFactory 为站点返回缓存存储；同一站点的多个版本必须共享同一个存储，
// 这样激活时才能清理旧代际。
type StorageFactory func(site string) offline.Storage

// SitesOptions 配置站点注册表。
type SitesOptions struct {
	Storage           StorageFactory
	Fetcher           offline.Fetcher
	Logger            *logrus.Logger
	RevalidateTimeout time.Duration
	// InstallConcurrency 同时安装的站点数量。
	InstallConcurrency int
}

// Sites 按站点名保存 offline.Registration。
type Sites struct {
	opts SitesOptions
	regs sync.Map
}

// NewSites 校验依赖并创建空注册表。
func NewSites(opts SitesOptions) (*Sites, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage factory required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = 2
	}
	return &Sites{opts: opts}, nil
}

// Install 为站点构建新版本 Worker 并交给 Registration 安装；
// 首个版本立即激活，后续版本按 DeferActivation 决定是否等待。
func (s *Sites) Install(ctx context.Context, route server.SiteRoute) error {
	name := route.Config.Name
	worker, err := offline.NewWorker(offline.Options{
		Name:              name,
		Generations:       route.Generations,
		Precache:          route.Precache,
		OfflineURL:        route.OfflineURL,
		APIPrefix:         route.Config.APIPrefix,
		DeferActivation:   route.Config.DeferActivation,
		RevalidateTimeout: s.opts.RevalidateTimeout,
	}, s.opts.Storage(name), s.opts.Fetcher, s.opts.Logger)
	if err != nil {
		return fmt.Errorf("site %s: %w", name, err)
	}

	value, _ := s.regs.LoadOrStore(name, offline.NewRegistration(name, s.opts.Logger))
	reg := value.(*offline.Registration)

	started := time.Now()
	fields := logrus.Fields{
		"action":     "install",
		"site":       name,
		"generation": route.Generations.General,
		"precache":   len(route.Precache),
	}
	if err := reg.Update(ctx, worker); err != nil {
		fields["error"] = err.Error()
		if errors.Is(err, offline.ErrSuperseded) {
			s.opts.Logger.WithFields(fields).Info("site_install_superseded")
			return nil
		}
		s.opts.Logger.WithFields(fields).Error("site_install_failed")
		return fmt.Errorf("site %s: %w", name, err)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["waiting"] = reg.Waiting() != nil
	s.opts.Logger.WithFields(fields).Info("site_installed")
	return nil
}

// InstallAll 并发安装所有站点，返回全部失败原因。
func (s *Sites) InstallAll(ctx context.Context, routes []server.SiteRoute) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.InstallConcurrency)
	for _, route := range routes {
		group.Go(func() error {
			if err := s.Install(groupCtx, route); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

// Remove 停止拦截站点请求，并等待该站点所有版本的后台任务结束；已写入的缓存保留在存储中。
func (s *Sites) Remove(name string) {
	if value, ok := s.regs.LoadAndDelete(name); ok {
		value.(*offline.Registration).Wait()
	}
}

// Registration 返回站点注册项，未安装时为 nil。
func (s *Sites) Registration(name string) *offline.Registration {
	if value, ok := s.regs.Load(name); ok {
		return value.(*offline.Registration)
	}
	return nil
}

// Names 返回已注册站点，按名称排序。
func (s *Sites) Names() []string {
	var names []string
	s.regs.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// SiteStatus 返回站点诊断快照；found 为 false 表示站点未注册。
func (s *Sites) SiteStatus(ctx context.Context, name string) (offline.Status, bool, error) {
	reg := s.Registration(name)
	if reg == nil {
		return offline.Status{}, false, nil
	}
	status, err := reg.Status(ctx)
	return status, true, err
}

// SendMessage 投递控制消息，返回站点是否存在以及消息是否被识别。
func (s *Sites) SendMessage(ctx context.Context, name, payload string) (found bool, accepted bool) {
	reg := s.Registration(name)
	if reg == nil {
		return false, false
	}
	return true, reg.Message(ctx, payload)
}

// Wait 等待所有站点（含已淘汰版本）的后台再验证任务结束，关闭存储前调用。
func (s *Sites) Wait() {
	s.regs.Range(func(_, value any) bool {
		value.(*offline.Registration).Wait()
		return true
	})
}
