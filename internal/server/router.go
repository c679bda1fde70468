package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SiteHandler describes the component that serves requests for a configured
// site through its offline cache. It allows injecting fake handlers during tests.
type SiteHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// SiteHandlerFunc adapts a function to the SiteHandler interface.
type SiteHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle makes SiteHandlerFunc satisfy SiteHandler.
func (f SiteHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Gateway    SiteHandler
	ListenPort int
	// BodyLimit 限制请求体大小（字节），需覆盖最大上传尺寸与 multipart 开销。
	BodyLimit int
}

const (
	contextKeyRoute     = "_adventures_route"
	contextKeyRequestID = "_adventures_request_id"

	multipartOverhead = 1 << 20
)

// BodyLimitFor 在上传上限之上预留 multipart 封装的开销。
func BodyLimitFor(maxUpload int64) int {
	if maxUpload <= 0 {
		return 0
	}
	return int(maxUpload) + multipartOverhead
}

// NewApp builds a Fiber application with request-id/CORS middleware and Host
// based dispatch: requests for a configured site go to the gateway, all other
// requests continue to the handlers registered afterwards (API, static files).
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("gateway handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive:   true,
		BodyLimit:       opts.BodyLimit,
		StructValidator: NewStructValidator(),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))
	app.Use(cors.New())

	return app, nil
}

// MountStatic 挂载前端静态目录，并为未命中的路径返回 JSON 404。必须在 API 路由之后调用。
func MountStatic(app *fiber.App, publicDir string) {
	if app == nil {
		return
	}
	if strings.TrimSpace(publicDir) != "" {
		app.Get("/*", static.New(publicDir))
	}
	app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})
}

// requestContextMiddleware 负责生成请求 ID，并基于 Host/Host:port 查找 SiteRoute。
// 命中站点时直接交给网关，不再进入后续路由。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return c.Next()
		}

		c.Locals(contextKeyRoute, route)
		return opts.Gateway.Handle(c, route)
	}
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RouteFromContext returns the site matched by the router middleware, if any.
func RouteFromContext(c fiber.Ctx) (*SiteRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*SiteRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
