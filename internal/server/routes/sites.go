package routes

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
)

// SiteInspector 提供站点运行时状态与控制消息投递，由 gateway.Sites 实现。
type SiteInspector interface {
	SiteStatus(ctx context.Context, name string) (offline.Status, bool, error)
	SendMessage(ctx context.Context, name, payload string) (found bool, accepted bool)
}

// RegisterSiteRoutes 暴露 /-/sites 诊断接口，供运维查询站点缓存代际与 Worker 状态。
func RegisterSiteRoutes(app *fiber.App, registry *server.SiteRegistry, inspector SiteInspector) {
	if app == nil || registry == nil || inspector == nil {
		return
	}

	app.Get("/-/sites", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"sites": encodeSites(registry.List())})
	})

	app.Get("/-/sites/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		route, ok := registry.Get(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		status, found, err := inspector.SiteStatus(c.Context(), name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "site_status_failed"})
		}
		payload := siteDetailPayload{sitePayload: encodeSite(*route)}
		if found {
			payload.Status = &status
		}
		return c.JSON(payload)
	})

	app.Post("/-/sites/:name/message", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		payload, err := messagePayload(c)
		if err != nil || strings.TrimSpace(payload) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message_required"})
		}
		found, accepted := inspector.SendMessage(c.Context(), name, payload)
		if !found {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		return c.JSON(fiber.Map{"site": name, "accepted": accepted})
	})
}

type sitePayload struct {
	Name            string              `json:"name"`
	Domain          string              `json:"domain"`
	Origin          string              `json:"origin"`
	Port            int                 `json:"port"`
	Generations     offline.Generations `json:"generations"`
	PrecacheEntries int                 `json:"precache_entries"`
	OfflinePage     string              `json:"offline_page,omitempty"`
	DeferActivation bool                `json:"defer_activation"`
}

type siteDetailPayload struct {
	sitePayload
	Status *offline.Status `json:"status,omitempty"`
}

func encodeSites(routes []server.SiteRoute) []sitePayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeSite(route))
	}
	return result
}

func encodeSite(route server.SiteRoute) sitePayload {
	return sitePayload{
		Name:            route.Config.Name,
		Domain:          route.Config.Domain,
		Origin:          route.Config.Origin,
		Port:            route.ListenPort,
		Generations:     route.Generations,
		PrecacheEntries: len(route.Precache),
		OfflinePage:     route.OfflineURL,
		DeferActivation: route.Config.DeferActivation,
	}
}

type messageRequest struct {
	Message string `json:"message" form:"message" validate:"required"`
}

// messagePayload 接受 JSON/表单 {"message": "..."}，其他类型按纯文本原样读取。
// 负载不做裁剪，由 Worker 精确匹配。
func messagePayload(c fiber.Ctx) (string, error) {
	var req messageRequest
	err := c.Bind().Body(&req)
	if errors.Is(err, fiber.ErrUnprocessableEntity) {
		return string(c.Body()), nil
	}
	if err != nil {
		return "", err
	}
	return req.Message, nil
}
