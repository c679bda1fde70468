package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc 接收重新加载后的配置；加载或校验失败时 cfg 为 nil、err 非空。
type ReloadFunc func(cfg *Config, err error)

// Watch 监听配置文件变化，每次写入或重建后重新执行完整的 Load。
// 回调在 fsnotify 的 goroutine 中执行，调用方需要自行保证并发安全。
func Watch(path string, onChange ReloadFunc) error {
	if path == "" {
		path = "config.toml"
	}
	if onChange == nil {
		return fmt.Errorf("reload callback required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !relevantChange(e) {
			return
		}
		onChange(Load(path))
	})
	v.WatchConfig()
	return nil
}

func relevantChange(e fsnotify.Event) bool {
	return e.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// ChangedSites 对比新旧配置，返回需要重新安装的站点（新增或指纹变化）以及被移除的站点名。
func ChangedSites(previous, next *Config) (changed []SiteConfig, removed []string) {
	old := map[string]SiteConfig{}
	if previous != nil {
		for _, site := range previous.Sites {
			old[site.Name] = site
		}
	}
	seen := map[string]struct{}{}
	if next != nil {
		for _, site := range next.Sites {
			seen[site.Name] = struct{}{}
			prior, ok := old[site.Name]
			if !ok || prior.Fingerprint() != site.Fingerprint() || prior.Domain != site.Domain {
				changed = append(changed, site)
			}
		}
	}
	if previous != nil {
		for _, site := range previous.Sites {
			if _, ok := seen[site.Name]; !ok {
				removed = append(removed, site.Name)
			}
		}
	}
	return changed, removed
}
