package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("GET", "http://trip.donnelly.local/index.html", nil)
	req.Host = "trip.donnelly.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if app.recorder.routeName != "donnelly" {
		t.Fatalf("expected donnelly route, got %s", app.recorder.routeName)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterFallsThroughWhenHostUnknown(t *testing.T) {
	app := newTestApp(t)
	app.Get("/api/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})
	MountStatic(app.App, "")

	req := httptest.NewRequest("GET", "http://api.donnelly.local/api/ping", nil)
	req.Host = "api.donnelly.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("未知 Host 应进入 API 路由，got %d %s", resp.StatusCode, string(body))
	}
	if app.recorder.routeName != "" {
		t.Fatalf("gateway should not be invoked, got %s", app.recorder.routeName)
	}

	req = httptest.NewRequest("GET", "http://api.donnelly.local/missing", nil)
	req.Host = "api.donnelly.local"
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ = io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error, got %s", string(body))
	}
}

func TestRouterServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>California 2026</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	app := newTestApp(t)
	MountStatic(app.App, dir)

	req := httptest.NewRequest("GET", "http://localhost/index.html", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte("California 2026")) {
		t.Fatalf("unexpected static response %d %s", resp.StatusCode, string(body))
	}
}

func TestRouterSkipsGatewayForDiagnostics(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/sites", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "http://trip.donnelly.local/-/sites", nil)
	req.Host = "trip.donnelly.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected diagnostics route, got %d", resp.StatusCode)
	}
	if app.recorder.routeName != "" {
		t.Fatalf("诊断路径不应进入网关")
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestBodyLimitForAddsOverhead(t *testing.T) {
	if got := BodyLimitFor(100 << 20); got != 101<<20 {
		t.Fatalf("unexpected body limit: %d", got)
	}
	if got := BodyLimitFor(0); got != 0 {
		t.Fatalf("zero upload limit should keep fiber default, got %d", got)
	}
}

type testApp struct {
	*fiber.App
	recorder *gatewayRecorder
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	registry, err := NewSiteRegistry(testSitesConfig())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &gatewayRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Gateway:    recorder,
		ListenPort: 3002,
		BodyLimit:  BodyLimitFor(1 << 20),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type gatewayRecorder struct {
	routeName string
}

func (g *gatewayRecorder) Handle(c fiber.Ctx, route *SiteRoute) error {
	g.routeName = route.Config.Name
	return c.SendStatus(fiber.StatusNoContent)
}
