package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 把部署环境中的变量映射到配置键，环境变量优先于文件。
var envBindings = map[string]string{
	"ListenPort":      "PORT",
	"Media.CloudName": "CLOUDINARY_CLOUD_NAME",
	"Media.APIKey":    "CLOUDINARY_API_KEY",
	"Media.APISecret": "CLOUDINARY_API_SECRET",
	"Media.AccessKey": "MINIO_ACCESS_KEY",
	"Media.SecretKey": "MINIO_SECRET_KEY",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectSiteLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	baseDir := filepath.Dir(path)
	applyGlobalDefaults(&cfg.Global)
	normalizeBackend(&cfg.Backend)
	cfg.Media.Provider = strings.ToLower(strings.TrimSpace(cfg.Media.Provider))
	for i := range cfg.Sites {
		if err := applyManifest(&cfg.Sites[i], baseDir); err != nil {
			return nil, err
		}
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, target := range []*string{&cfg.Global.StoragePath, &cfg.Backend.DataFile, &cfg.Backend.KVPath} {
		if *target == "" {
			continue
		}
		abs, err := filepath.Abs(*target)
		if err != nil {
			return nil, fmt.Errorf("无法解析路径 %s: %w", *target, err)
		}
		*target = abs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3002)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogMaxAge", 30)
	v.SetDefault("LogCompress", true)
	v.SetDefault("LogStdout", false)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("PublicDir", "public")
	v.SetDefault("MaxUploadSize", 100*1024*1024)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RevalidateTimeout", "30s")

	v.SetDefault("Backend.Variant", BackendPersistent)
	v.SetDefault("Backend.DataFile", "./data/donnelly.json")
	v.SetDefault("Backend.KVPath", "./data/kv")
	v.SetDefault("Backend.Tag", "california2026")
	v.SetDefault("Backend.MaxResults", 100)

	v.SetDefault("Media.Provider", MediaCloudinary)
	v.SetDefault("Media.Folder", "donnelly-adventures")
	v.SetDefault("Media.APIBase", "https://api.cloudinary.com/v1_1")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3002
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.RevalidateTimeout.DurationValue() == 0 {
		g.RevalidateTimeout = Duration(30 * time.Second)
	}
	if g.MaxUploadSize == 0 {
		g.MaxUploadSize = 100 * 1024 * 1024
	}
}

func normalizeBackend(b *BackendConfig) {
	b.Variant = strings.ToLower(strings.TrimSpace(b.Variant))
	if b.Variant == "" {
		b.Variant = BackendPersistent
	}
	if b.MaxResults == 0 {
		b.MaxResults = 100
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	if s.CacheName == "" {
		s.CacheName = "donnelly-adventures"
	}
	if s.ImageCacheName == "" {
		s.ImageCacheName = "donnelly-images"
	}
	if s.CacheVersion == "" {
		s.CacheVersion = "v1"
	}
	if s.OfflinePage == "" {
		s.OfflinePage = "/california-2026.html"
	}
	if s.APIPrefix == "" {
		s.APIPrefix = "/api/"
	}
	if len(s.Precache) == 0 {
		s.Precache = append([]string(nil), DefaultPrecache...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectSiteLevelPorts 拒绝站点级 Port：所有站点共用全局 ListenPort，按 Host 区分。
// viper 会把嵌套表的键转为小写，因此按不区分大小写的方式查找。
func rejectSiteLevelPorts(v *viper.Viper) error {
	raw := v.Get("Site")
	sites, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range sites {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupKey(m, "Port"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupKey(m, "Name"); ok {
				if text, ok := rawName.(string); ok && text != "" {
					name = text
				}
			}
			return newFieldError(siteField(name, "Port"), "不支持站点级端口，请使用全局 ListenPort")
		}
	}
	return nil
}

func lookupKey(m map[string]interface{}, key string) (interface{}, bool) {
	for k, value := range m {
		if strings.EqualFold(k, key) {
			return value, true
		}
	}
	return nil, false
}
