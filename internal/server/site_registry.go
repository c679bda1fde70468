package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/donnelly-adventures/adventures/internal/config"
	"github.com/donnelly-adventures/adventures/internal/offline"
)

// SiteRoute 聚合站点配置与派生属性（解析后的 Origin、缓存代际、绝对地址的预缓存清单），
// 供网关与诊断接口直接复用，避免每个请求重复解析配置。
type SiteRoute struct {
	// Config 是 config.toml 中声明的站点字段副本。
	Config config.SiteConfig
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
	OriginURL  *url.URL
	// Generations 是 <CacheName>-<CacheVersion> 形式的两个缓存名。
	Generations offline.Generations
	// Precache/OfflineURL 已按 Origin 解析为绝对 URL。
	Precache   []string
	OfflineURL string
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力；热加载时整体替换。
type SiteRegistry struct {
	mu      sync.RWMutex
	routes  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射。没有站点时返回空注册表，所有请求走 API 与静态文件。
func NewSiteRegistry(cfg *config.Config) (*SiteRegistry, error) {
	registry := &SiteRegistry{}
	if err := registry.Replace(cfg); err != nil {
		return nil, err
	}
	return registry, nil
}

// Replace 用新配置重建映射；构建失败时保留旧映射。
func (r *SiteRegistry) Replace(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	routes := make(map[string]*SiteRoute, len(cfg.Sites))
	ordered := make([]*SiteRoute, 0, len(cfg.Sites))
	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := routes[normalizedHost]; exists {
			return fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := BuildSiteRoute(site, cfg.Global.ListenPort)
		if err != nil {
			return err
		}
		routes[normalizedHost] = route
		ordered = append(ordered, route)
	}

	r.mu.Lock()
	r.routes = routes
	r.ordered = ordered
	r.mu.Unlock()
	return nil
}

// BuildSiteRoute 解析单个站点的 Origin 与预缓存清单。
func BuildSiteRoute(site config.SiteConfig, listenPort int) (*SiteRoute, error) {
	originURL, err := url.Parse(site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin for site %s: %w", site.Name, err)
	}
	precache, err := offline.ResolveManifest(originURL, site.Precache)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}
	offlineURL := ""
	if site.OfflinePage != "" {
		offlineURL, err = offline.ResolveURL(originURL, site.OfflinePage)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}
	}
	return &SiteRoute{
		Config:      site,
		ListenPort:  listenPort,
		OriginURL:   originURL,
		Generations: offline.NewGenerations(site.CacheName, site.ImageCacheName, site.CacheVersion),
		Precache:    precache,
		OfflineURL:  offlineURL,
	}, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Get 按站点名查找，用于诊断接口。
func (r *SiteRegistry) Get(name string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.ordered {
		if route.Config.Name == name {
			return route, true
		}
	}
	return nil, false
}

// List 按配置顺序返回当前注册的站点副本。
func (r *SiteRegistry) List() []SiteRoute {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil
	}
	result := make([]SiteRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
