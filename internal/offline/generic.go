package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// genericCacheFirst 处理其余资源：命中即返回（不做再验证），离线时给出离线页或 503。
type genericCacheFirst struct {
	storage     Storage
	cacheName   string
	offlinePage *Request
	fetcher     Fetcher
	logger      logrus.FieldLogger
}

func (e *genericCacheFirst) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	cached, ok, err := matchIn(ctx, e.storage, e.cacheName, req)
	if err != nil {
		e.logger.WithError(err).WithField("key", req.Key()).Warn("cache_match_failed")
	}
	if ok {
		return &Outcome{Response: cached, Strategy: StrategyGeneric, Source: SourceCache}, nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			if putErr := putIn(ctx, e.storage, e.cacheName, req, resp); putErr != nil {
				e.logger.WithError(putErr).WithField("key", req.Key()).Warn("cache_put_failed")
			}
		}
		return &Outcome{Response: resp, Strategy: StrategyGeneric, Source: SourceNetwork}, nil
	}
	if errors.Is(err, ErrUpstreamRejected) {
		return nil, fmt.Errorf("%s: %w", req.Key(), err)
	}

	if req.IsNavigation() && e.offlinePage != nil {
		page, found, matchErr := matchIn(ctx, e.storage, e.cacheName, e.offlinePage)
		if matchErr != nil {
			e.logger.WithError(matchErr).Warn("offline_page_match_failed")
		}
		if found {
			return &Outcome{Response: page, Strategy: StrategyGeneric, Source: SourceOfflinePage}, nil
		}
		e.logger.WithField("offline_page", e.offlinePage.Key()).Warn("offline_page_missing")
	}
	return &Outcome{Response: syntheticResponse(http.StatusServiceUnavailable), Strategy: StrategyGeneric, Source: SourceSynthetic}, nil
}
