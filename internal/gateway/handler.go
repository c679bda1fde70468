package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/donnelly-adventures/adventures/internal/logging"
	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
)

const (
	headerCache    = "X-Offline-Cache"
	headerStrategy = "X-Offline-Strategy"

	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

// Handler 实现 server.SiteHandler：把请求交给站点的 active Worker，
// 不拦截的请求透传到 Origin。
type Handler struct {
	sites   *Sites
	fetcher offline.Fetcher
	logger  *logrus.Logger
}

var _ server.SiteHandler = (*Handler)(nil)

// NewHandler constructs a gateway handler.
func NewHandler(sites *Sites, fetcher offline.Fetcher, logger *logrus.Logger) *Handler {
	return &Handler{sites: sites, fetcher: fetcher, logger: logger}
}

// Handle 执行拦截；Worker 内部 panic 会被转换为 500 JSON 响应。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = h.respondError(c, route, requestID, fiber.StatusInternalServerError,
				"gateway_panic", fmt.Errorf("panic: %v", r))
		}
	}()

	reg := h.sites.Registration(route.Config.Name)
	if reg == nil {
		return h.respondError(c, route, requestID, fiber.StatusInternalServerError,
			"site_registration_missing", nil)
	}

	req, err := buildOfflineRequest(c, route)
	if err != nil {
		return h.respondError(c, route, requestID, fiber.StatusBadRequest, "invalid_request", err)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome, err := reg.Fetch(ctx, req)
	switch {
	case errors.Is(err, offline.ErrBypass):
		return h.passThrough(ctx, c, route, req, requestID, started)
	case errors.Is(err, offline.ErrUpstreamRejected):
		return h.respondError(c, route, requestID, fiber.StatusBadGateway, "upstream_rejected", err)
	case errors.Is(err, offline.ErrNotCached):
		return h.respondError(c, route, requestID, fiber.StatusGatewayTimeout, "offline_not_cached", err)
	case err != nil:
		return h.respondError(c, route, requestID, fiber.StatusBadGateway, "upstream_failed", err)
	}

	marker := cacheMiss
	if outcome.CacheHit() {
		marker = cacheHit
	}
	h.writeResponse(c, req, outcome.Response, marker, string(outcome.Strategy))
	h.logResult(route, req, requestID, string(outcome.Strategy), outcome.Response.Status, outcome.CacheHit(), started)
	return nil
}

func (h *Handler) passThrough(
	ctx context.Context,
	c fiber.Ctx,
	route *server.SiteRoute,
	req *offline.Request,
	requestID string,
	started time.Time,
) error {
	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		code := "upstream_failed"
		if errors.Is(err, offline.ErrUpstreamRejected) {
			code = "upstream_rejected"
		}
		return h.respondError(c, route, requestID, fiber.StatusBadGateway, code, err)
	}
	h.writeResponse(c, req, resp, cacheBypass, string(offline.StrategyBypass))
	h.logResult(route, req, requestID, string(offline.StrategyBypass), resp.Status, false, started)
	return nil
}

func (h *Handler) writeResponse(c fiber.Ctx, req *offline.Request, resp *offline.Response, marker, strategy string) {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set(headerCache, marker)
	c.Set(headerStrategy, strategy)
	c.Status(resp.Status)
	if req.Method == http.MethodHead {
		return
	}
	c.Response().SetBody(resp.Body)
}

func (h *Handler) respondError(c fiber.Ctx, route *server.SiteRoute, requestID string, status int, code string, err error) error {
	fields := routeFields(route, requestID)
	fields["action"] = "gateway"
	fields["error"] = code
	entry := h.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= fiber.StatusInternalServerError {
		entry.Error("gateway_failed")
	} else {
		entry.Warn("gateway_rejected")
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	req *offline.Request,
	requestID string,
	strategy string,
	status int,
	hit bool,
	started time.Time,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, strategy, hit)
	fields["action"] = "gateway"
	fields["method"] = req.Method
	fields["url"] = req.URL.Redacted()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("gateway_complete")
}

func routeFields(route *server.SiteRoute, requestID string) logrus.Fields {
	fields := logrus.Fields{"site": "", "domain": ""}
	if route != nil {
		fields["site"] = route.Config.Name
		fields["domain"] = route.Config.Domain
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// buildOfflineRequest 把 Fiber 请求映射到 Origin 上的 offline.Request。
// 请求路径原样拼接到 Origin 的 scheme://host，与预缓存清单中的绝对路径保持一致。
func buildOfflineRequest(c fiber.Ctx, route *server.SiteRoute) (*offline.Request, error) {
	if route == nil || route.OriginURL == nil {
		return nil, errors.New("site origin missing")
	}
	target := &url.URL{
		Scheme:   route.OriginURL.Scheme,
		Host:     route.OriginURL.Host,
		Path:     string(c.Request().URI().Path()),
		RawQuery: string(c.Request().URI().QueryString()),
	}
	if target.Path == "" {
		target.Path = "/"
	}

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del("Host")
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	if route.ListenPort > 0 {
		header.Set("X-Forwarded-Port", strconv.Itoa(route.ListenPort))
	}

	req := &offline.Request{
		Method:      c.Method(),
		URL:         target,
		Header:      header,
		Destination: offline.Destination(strings.ToLower(header.Get("Sec-Fetch-Dest"))),
		Mode:        offline.Mode(strings.ToLower(header.Get("Sec-Fetch-Mode"))),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	// 不发送 Sec-Fetch-* 的客户端：GET 且 Accept 以 HTML 为主时视为页面导航。
	if req.Mode == "" && req.Method == http.MethodGet && acceptsHTML(header.Get("Accept")) {
		req.Mode = offline.ModeNavigate
		if req.Destination == offline.DestinationNone {
			req.Destination = offline.DestinationDocument
		}
	}
	return req, nil
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(mediaType, "text/html") {
			return true
		}
	}
	return false
}
