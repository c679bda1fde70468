package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// imageCacheFirst 优先返回图片缓存，并在后台刷新命中的条目。
type imageCacheFirst struct {
	storage    Storage
	cacheName  string
	fetcher    Fetcher
	background *backgroundTasks
	logger     logrus.FieldLogger
}

func (e *imageCacheFirst) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	cached, ok, err := matchIn(ctx, e.storage, e.cacheName, req)
	if err != nil {
		e.logger.WithError(err).WithField("key", req.Key()).Warn("cache_match_failed")
	}
	if ok {
		e.revalidate(ctx, req)
		return &Outcome{Response: cached, Strategy: StrategyImage, Source: SourceCache}, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if errors.Is(err, ErrUpstreamRejected) {
		return nil, fmt.Errorf("%s: %w", req.Key(), err)
	}
	if err != nil {
		// 图片加载失败时降级为空的 404，页面显示破图而不是报错。
		return &Outcome{Response: syntheticResponse(http.StatusNotFound), Strategy: StrategyImage, Source: SourceSynthetic}, nil
	}
	if resp.OK() {
		if putErr := putIn(ctx, e.storage, e.cacheName, req, resp); putErr != nil {
			e.logger.WithError(putErr).WithField("key", req.Key()).Warn("cache_put_failed")
		}
	}
	return &Outcome{Response: resp, Strategy: StrategyImage, Source: SourceNetwork}, nil
}

// revalidate 在后台重新拉取图片，只在 2xx 时覆盖缓存。任何失败都在任务内丢弃，
// 不得影响已经返回给调用方的缓存响应。
func (e *imageCacheFirst) revalidate(ctx context.Context, req *Request) {
	e.background.spawn(ctx, "revalidate", func(bgCtx context.Context) error {
		resp, err := e.fetcher.Fetch(bgCtx, req)
		if err != nil {
			return fetchError(err)
		}
		if !resp.OK() {
			return fmt.Errorf("%w: status %d", ErrNonOK, resp.Status)
		}
		return putIn(bgCtx, e.storage, e.cacheName, req, resp)
	})
}
