package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State 描述 Worker 生命周期。
type State string

const (
	StateUninstalled       State = "uninstalled"
	StateInstalling        State = "installing"
	StateWaitingToActivate State = "waiting-to-activate"
	StateActivating        State = "activating"
	StateActive            State = "active"
	StateRedundant         State = "redundant"
)

// MessageSkipWaiting 是唯一被识别的控制消息。
const MessageSkipWaiting = "skipWaiting"

const (
	defaultRevalidateTimeout  = 30 * time.Second
	defaultInstallConcurrency = 4
)

// EventHandler 为每类事件提供一个方法；运行时必须等待返回值后才认为事件完成，
// 这等价于浏览器中 waitUntil 的“延长生命周期直到完成”。
type EventHandler interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Fetch(ctx context.Context, req *Request) (*Outcome, error)
	Message(ctx context.Context, payload string) bool
}

// Options 配置一个 Worker 实例（对应某个站点的某一版本）。
type Options struct {
	Name        string
	Generations Generations
	// Precache 是已解析的绝对 URL 列表，安装时必须全部成功。
	Precache []string
	// OfflineURL 是导航离线时返回的页面，通常也在 Precache 中。
	OfflineURL string
	APIPrefix  string
	// DeferActivation 为 true 时安装后不自动 skip waiting，等待控制消息或旧实例空闲。
	DeferActivation    bool
	RevalidateTimeout  time.Duration
	InstallConcurrency int
}

// Worker 是单个版本的离线缓存处理器，实现 EventHandler。
type Worker struct {
	opts       Options
	storage    Storage
	fetcher    Fetcher
	logger     logrus.FieldLogger
	classifier Classifier
	executors  map[Strategy]Executor
	background *backgroundTasks

	mu            sync.Mutex
	state         State
	skipWaiting   bool
	controlling   bool
	onSkipWaiting func()

	inflight atomic.Int64
}

var _ EventHandler = (*Worker)(nil)

// NewWorker 校验配置并组装三个执行器。
func NewWorker(opts Options, storage Storage, fetcher Fetcher, logger logrus.FieldLogger) (*Worker, error) {
	if storage == nil {
		return nil, errors.New("offline storage required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if err := opts.Generations.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		logger = silent
	}
	if opts.RevalidateTimeout <= 0 {
		opts.RevalidateTimeout = defaultRevalidateTimeout
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = defaultInstallConcurrency
	}

	var offlinePage *Request
	if opts.OfflineURL != "" {
		req, err := NewRequest(http.MethodGet, opts.OfflineURL)
		if err != nil {
			return nil, fmt.Errorf("offline page: %w", err)
		}
		offlinePage = req
	}

	logger = logger.WithField("site", opts.Name)
	bg := &backgroundTasks{timeout: opts.RevalidateTimeout, logger: logger}
	w := &Worker{
		opts:       opts,
		storage:    storage,
		fetcher:    fetcher,
		logger:     logger,
		classifier: NewClassifier(opts.APIPrefix),
		background: bg,
		state:      StateUninstalled,
	}
	w.executors = map[Strategy]Executor{
		StrategyNetworkFirst: &networkFirst{
			storage:   storage,
			cacheName: opts.Generations.General,
			fetcher:   fetcher,
			logger:    logger,
		},
		StrategyImage: &imageCacheFirst{
			storage:    storage,
			cacheName:  opts.Generations.Images,
			fetcher:    fetcher,
			background: bg,
			logger:     logger,
		},
		StrategyGeneric: &genericCacheFirst{
			storage:     storage,
			cacheName:   opts.Generations.General,
			offlinePage: offlinePage,
			fetcher:     fetcher,
			logger:      logger,
		},
	}
	return w, nil
}

// Install 并发拉取整个预缓存清单，全部成功后一次性写入通用缓存；任一失败则什么都不提交。
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateUninstalled {
		current := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: worker is %s", ErrInstall, current)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	started := time.Now()
	entries, err := w.precache(ctx)
	if err == nil {
		var cache Cache
		cache, err = w.storage.Open(ctx, w.opts.Generations.General)
		if err == nil {
			err = cache.PutAll(ctx, entries)
		}
	}

	fields := logrus.Fields{
		"action":     "install",
		"cache":      w.opts.Generations.General,
		"precache":   len(w.opts.Precache),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		w.setState(StateUninstalled)
		w.logger.WithFields(fields).WithError(err).Error("install_failed")
		return fmt.Errorf("%w: %w", ErrInstall, err)
	}

	w.mu.Lock()
	w.state = StateWaitingToActivate
	if !w.opts.DeferActivation {
		w.skipWaiting = true
	}
	w.mu.Unlock()
	w.logger.WithFields(fields).Info("install_complete")
	return nil
}

func (w *Worker) precache(ctx context.Context) ([]Entry, error) {
	entries := make([]Entry, len(w.opts.Precache))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.InstallConcurrency)
	for i, raw := range w.opts.Precache {
		g.Go(func() error {
			req, err := NewRequest(http.MethodGet, raw)
			if err != nil {
				return err
			}
			resp, err := w.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", raw, fetchError(err))
			}
			if !resp.OK() {
				return fmt.Errorf("%s: %w: status %d", raw, ErrNonOK, resp.Status)
			}
			entries[i] = Entry{Request: req, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Activate 删除所有不属于当前代际的缓存，然后立即接管客户端。
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateWaitingToActivate {
		current := w.state
		w.mu.Unlock()
		return fmt.Errorf("cannot activate worker in state %s", current)
	}
	w.state = StateActivating
	w.mu.Unlock()

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.setState(StateWaitingToActivate)
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if w.opts.Generations.Contains(name) {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.setState(StateWaitingToActivate)
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		w.logger.WithFields(logrus.Fields{"action": "prune", "cache": name}).Info("stale_cache_deleted")
	}

	w.mu.Lock()
	w.state = StateActive
	w.controlling = true
	w.mu.Unlock()
	w.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"general": w.opts.Generations.General,
		"images":  w.opts.Generations.Images,
	}).Info("worker_active")
	return nil
}

// Fetch 分类请求并交给唯一的执行器；bypass 的请求返回 ErrBypass，由调用方直接走网络。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Outcome, error) {
	strategy := w.classifier.Classify(req)
	if strategy == StrategyBypass {
		return nil, ErrBypass
	}
	executor, ok := w.executors[strategy]
	if !ok {
		return nil, fmt.Errorf("no executor for strategy %s", strategy)
	}
	w.inflight.Add(1)
	defer w.inflight.Add(-1)
	return executor.Execute(ctx, req)
}

// Message 处理外部控制消息，只识别与 skipWaiting 完全相同的负载，其它一律忽略。
func (w *Worker) Message(_ context.Context, payload string) bool {
	if payload != MessageSkipWaiting {
		return false
	}
	w.SkipWaiting()
	return true
}

// SkipWaiting 标记跳过等待期，并通知所属 Registration 尝试立即激活。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	notify := w.onSkipWaiting
	w.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Classify 暴露分类结果，便于网关记录策略。
func (w *Worker) Classify(req *Request) Strategy {
	return w.classifier.Classify(req)
}

// Wait 等待所有后台再验证任务结束，用于关停与测试。
func (w *Worker) Wait() {
	w.background.wait()
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SkipWaitingRequested 表示是否已请求跳过等待。
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// Controlling 表示 Worker 是否已接管客户端。
func (w *Worker) Controlling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controlling
}

// InFlight 返回正在处理的拦截请求数。
func (w *Worker) InFlight() int64 {
	return w.inflight.Load()
}

// Options 返回构造时的配置副本。
func (w *Worker) Options() Options {
	return w.opts
}

// Storage 返回注入的缓存实现。
func (w *Worker) Storage() Storage {
	return w.storage
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Worker) setSkipWaitingListener(fn func()) {
	w.mu.Lock()
	w.onSkipWaiting = fn
	w.mu.Unlock()
}

func (w *Worker) retire() {
	w.mu.Lock()
	w.state = StateRedundant
	w.controlling = false
	w.onSkipWaiting = nil
	w.mu.Unlock()
}
