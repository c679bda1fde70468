package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Registration 持有一个站点的 active 与 waiting Worker，负责多实例交接：
// 新 Worker 安装后若已 skip waiting 则立即激活，否则等待控制消息或旧实例空闲。
//
// 每次 Update 在入口领取递增序号；安装完成时序号落后于已登记版本的 Worker 不会覆盖较新的版本。
// 有更晚发起的安装尚未结束时不激活，避免激活时的清理删掉正在提交的新代际。
type Registration struct {
	name   string
	logger logrus.FieldLogger

	tickets    atomic.Uint64
	activateMu sync.Mutex

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
	latest  uint64
	pending map[uint64]*Worker
	owned   []*Worker
}

// NewRegistration 创建没有任何 Worker 的注册项，此时所有请求直接透传到网络。
func NewRegistration(name string, logger logrus.FieldLogger) *Registration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{
		name:    name,
		logger:  logger.WithField("site", name),
		pending: make(map[uint64]*Worker),
	}
}

// Name 返回站点名。
func (r *Registration) Name() string {
	return r.name
}

// Update 安装新 Worker 并尝试激活。安装失败时保持原有 active 不变；
// 安装期间若有更晚发起的 Update 已先完成，返回 ErrSuperseded。
func (r *Registration) Update(ctx context.Context, w *Worker) error {
	if w == nil {
		return errors.New("worker required")
	}
	ticket := r.tickets.Add(1)

	r.mu.Lock()
	r.pending[ticket] = w
	r.owned = append(r.owned, w)
	r.mu.Unlock()
	// 等待已经开始的激活结束；此后本次安装结束前，只有序号更大的版本可以激活。
	r.activateMu.Lock()
	r.activateMu.Unlock()

	if err := w.Install(ctx); err != nil {
		r.mu.Lock()
		delete(r.pending, ticket)
		r.mu.Unlock()
		r.activateLogged(ctx)
		return err
	}

	r.mu.Lock()
	delete(r.pending, ticket)
	if ticket < r.latest {
		keep := r.liveGenerationsLocked()
		r.mu.Unlock()
		w.retire()
		r.discard(ctx, w, keep)
		r.activateLogged(ctx)
		return fmt.Errorf("%w: %s", ErrSuperseded, w.opts.Generations.General)
	}
	previous := r.waiting
	r.waiting = w
	r.latest = ticket
	r.mu.Unlock()
	if previous != nil {
		previous.retire()
	}
	w.setSkipWaitingListener(func() {
		r.activateLogged(context.Background())
	})
	return r.tryActivate(ctx)
}

// newerPendingLocked 表示是否有序号大于 waiting 的安装尚未结束，调用方需持有 r.mu。
func (r *Registration) newerPendingLocked() bool {
	for ticket := range r.pending {
		if ticket > r.latest {
			return true
		}
	}
	return false
}

// liveGenerationsLocked 返回 active、waiting 与仍在安装的 Worker 使用的缓存名，调用方需持有 r.mu。
func (r *Registration) liveGenerationsLocked() map[string]bool {
	keep := make(map[string]bool, 4)
	live := []*Worker{r.active, r.waiting}
	for _, w := range r.pending {
		live = append(live, w)
	}
	for _, w := range live {
		if w != nil {
			keep[w.opts.Generations.General] = true
			keep[w.opts.Generations.Images] = true
		}
	}
	return keep
}

// discard 删除被淘汰 Worker 安装时写入、且不被现存版本使用的通用缓存。
func (r *Registration) discard(ctx context.Context, w *Worker, keep map[string]bool) {
	name := w.opts.Generations.General
	if keep[name] {
		return
	}
	r.activateMu.Lock()
	defer r.activateMu.Unlock()
	if _, err := w.storage.Delete(ctx, name); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "prune", "cache": name}).Warn("superseded_cache_delete_failed")
		return
	}
	r.logger.WithFields(logrus.Fields{"action": "prune", "cache": name}).Info("superseded_cache_deleted")
}

func (r *Registration) activateLogged(ctx context.Context) {
	if err := r.tryActivate(ctx); err != nil {
		r.logger.WithError(err).WithField("action", "activate").Error("activate_failed")
	}
}

// tryActivate 在满足条件时把 waiting 提升为 active：没有更新的安装进行中，并且已请求 skip waiting、
// 或当前没有 active、或旧 active 已没有进行中的请求。
func (r *Registration) tryActivate(ctx context.Context) error {
	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	r.mu.Lock()
	candidate := r.waiting
	current := r.active
	if candidate == nil || r.newerPendingLocked() {
		r.mu.Unlock()
		return nil
	}
	if !candidate.SkipWaitingRequested() && current != nil && current.InFlight() > 0 {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.mu.Unlock()

	if err := candidate.Activate(ctx); err != nil {
		r.mu.Lock()
		if r.waiting == nil {
			r.waiting = candidate
		}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	old := r.active
	r.active = candidate
	r.mu.Unlock()
	if old != nil && old != candidate {
		old.retire()
	}
	return nil
}

// Fetch 交给当前 active Worker；没有 active 时返回 ErrBypass。
func (r *Registration) Fetch(ctx context.Context, req *Request) (*Outcome, error) {
	w := r.Active()
	if w == nil {
		return nil, ErrBypass
	}
	outcome, err := w.Fetch(ctx, req)
	if r.hasWaiting() && w.InFlight() == 0 {
		r.activateLogged(ctx)
	}
	return outcome, err
}

// Message 优先投递给 waiting Worker（强制部署新版本），否则投递给 active。
func (r *Registration) Message(ctx context.Context, payload string) bool {
	r.mu.Lock()
	target := r.waiting
	if target == nil {
		target = r.active
	}
	r.mu.Unlock()
	if target == nil {
		return false
	}
	return target.Message(ctx, payload)
}

// Active 返回当前 active Worker，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting 返回等待激活的 Worker，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Wait 等待本注册项拥有过的所有 Worker（含已淘汰实例）的后台任务结束，
// 之后把已淘汰的 Worker 从跟踪列表中移除。
func (r *Registration) Wait() {
	r.mu.Lock()
	owned := append([]*Worker(nil), r.owned...)
	r.mu.Unlock()
	for _, w := range owned {
		w.Wait()
	}

	r.mu.Lock()
	kept := r.owned[:0]
	for _, w := range r.owned {
		if w.State() != StateRedundant {
			kept = append(kept, w)
		}
	}
	clear(r.owned[len(kept):])
	r.owned = kept
	r.mu.Unlock()
}

func (r *Registration) hasWaiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting != nil
}

// WorkerStatus 是诊断接口输出的 Worker 快照。
type WorkerStatus struct {
	State       State       `json:"state"`
	Generations Generations `json:"generations"`
	Controlling bool        `json:"controlling"`
	SkipWaiting bool        `json:"skip_waiting"`
	InFlight    int64       `json:"in_flight"`
}

// Status 汇总注册项状态以及存储中的缓存名称与条目数。
type Status struct {
	Name    string         `json:"name"`
	Active  *WorkerStatus  `json:"active,omitempty"`
	Waiting *WorkerStatus  `json:"waiting,omitempty"`
	Caches  map[string]int `json:"caches,omitempty"`
}

// Status 生成诊断快照；存储读取失败时返回已收集的部分与错误。
func (r *Registration) Status(ctx context.Context) (Status, error) {
	active, waiting := r.Active(), r.Waiting()
	status := Status{
		Name:    r.name,
		Active:  workerStatus(active),
		Waiting: workerStatus(waiting),
	}

	source := active
	if source == nil {
		source = waiting
	}
	if source == nil {
		return status, nil
	}
	names, err := source.Storage().Keys(ctx)
	if err != nil {
		return status, err
	}
	status.Caches = make(map[string]int, len(names))
	for _, name := range names {
		cache, err := source.Storage().Open(ctx, name)
		if err != nil {
			return status, err
		}
		keys, err := cache.Keys(ctx)
		if err != nil {
			return status, err
		}
		status.Caches[name] = len(keys)
	}
	return status, nil
}

func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		State:       w.State(),
		Generations: w.Options().Generations,
		Controlling: w.Controlling(),
		SkipWaiting: w.SkipWaitingRequested(),
		InFlight:    w.InFlight(),
	}
}
