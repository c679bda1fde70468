package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// networkFirst 用于 API 数据：优先网络，仅在网络失败时回退到通用缓存。
type networkFirst struct {
	storage   Storage
	cacheName string
	fetcher   Fetcher
	logger    logrus.FieldLogger
}

func (e *networkFirst) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		// 先落缓存再返回，调用方拿到响应时缓存已是最新。
		if resp.OK() {
			if putErr := putIn(ctx, e.storage, e.cacheName, req, resp); putErr != nil {
				e.logger.WithError(putErr).WithField("key", req.Key()).Warn("cache_put_failed")
			}
		}
		return &Outcome{Response: resp, Strategy: StrategyNetworkFirst, Source: SourceNetwork}, nil
	}
	if errors.Is(err, ErrUpstreamRejected) {
		return nil, fmt.Errorf("%s: %w", req.Key(), err)
	}

	cached, ok, matchErr := matchIn(ctx, e.storage, e.cacheName, req)
	if matchErr != nil {
		e.logger.WithError(matchErr).WithField("key", req.Key()).Warn("cache_match_failed")
	}
	if ok {
		return &Outcome{Response: cached, Strategy: StrategyNetworkFirst, Source: SourceCache}, nil
	}
	// API 没有合成兜底，失败向调用方传播。
	return nil, fmt.Errorf("%s: %w: %w", req.Key(), ErrNotCached, networkError(err))
}
