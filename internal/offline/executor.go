package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Fetcher 执行真实网络请求。只有“到不了网络”才返回 error，4xx/5xx 以 Response 形式返回。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Source 标记响应来自哪里，便于日志与响应头输出。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOfflinePage Source = "offline-page"
	SourceSynthetic   Source = "synthetic"
)

// Outcome 是一次拦截的结果。
type Outcome struct {
	Response *Response
	Strategy Strategy
	Source   Source
}

// CacheHit 表示响应是否来自缓存（含离线页）。
func (o *Outcome) CacheHit() bool {
	return o != nil && (o.Source == SourceCache || o.Source == SourceOfflinePage)
}

// Executor 实现一种端到端缓存算法。
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Outcome, error)
}

func networkError(err error) error {
	if errors.Is(err, ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// fetchError 把 Fetcher 错误归类：上游拒绝原样返回，其余视为网络失败。
func fetchError(err error) error {
	if errors.Is(err, ErrUpstreamRejected) {
		return err
	}
	return networkError(err)
}

// backgroundTasks 托管“发出即不等待”的后台任务：任务使用与请求解耦的 context，
// 错误与 panic 都在边界内吞掉，绝不影响已经返回的主响应。
type backgroundTasks struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  logrus.FieldLogger
}

func (b *backgroundTasks) spawn(parent context.Context, name string, task func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx := context.WithoutCancel(parent)
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				b.logger.WithFields(logrus.Fields{"action": name}).Warnf("background task panic: %v", r)
			}
		}()
		if err := task(ctx); err != nil {
			b.logger.WithFields(logrus.Fields{"action": name}).WithError(err).Debug("background task discarded")
		}
	}()
}

func (b *backgroundTasks) wait() {
	b.wg.Wait()
}
