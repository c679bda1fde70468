package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 后端变体。
const (
	BackendPersistent = "persistent"
	BackendEdge       = "edge"
)

// 媒体托管提供方。
const (
	MediaCloudinary = "cloudinary"
	MediaMinIO      = "minio"
)

// GlobalConfig 描述进程级运行参数，所有站点共享。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogMaxAge         int      `mapstructure:"LogMaxAge"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	LogStdout         bool     `mapstructure:"LogStdout"`
	StoragePath       string   `mapstructure:"StoragePath"`
	PublicDir         string   `mapstructure:"PublicDir"`
	MaxUploadSize     int64    `mapstructure:"MaxUploadSize"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	RevalidateTimeout Duration `mapstructure:"RevalidateTimeout"`
}

// BackendConfig 选择 journal 后端变体及其存储位置。
type BackendConfig struct {
	Variant    string `mapstructure:"Variant"`
	DataFile   string `mapstructure:"DataFile"`
	KVPath     string `mapstructure:"KVPath"`
	Tag        string `mapstructure:"Tag"`
	MaxResults int    `mapstructure:"MaxResults"`
}

// MediaConfig 描述照片与视频的托管位置，密钥通常来自环境变量。
type MediaConfig struct {
	Provider  string `mapstructure:"Provider"`
	Folder    string `mapstructure:"Folder"`
	CloudName string `mapstructure:"CloudName"`
	APIKey    string `mapstructure:"APIKey"`
	APISecret string `mapstructure:"APISecret"`
	APIBase   string `mapstructure:"APIBase"`
	Endpoint  string `mapstructure:"Endpoint"`
	Bucket    string `mapstructure:"Bucket"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	UseSSL    bool   `mapstructure:"UseSSL"`
	PublicURL string `mapstructure:"PublicURL"`
}

// SiteConfig 定义一个离线网关站点：按 Domain 匹配请求，并把未命中缓存的请求转发到 Origin。
type SiteConfig struct {
	Name            string   `mapstructure:"Name"`
	Domain          string   `mapstructure:"Domain"`
	Origin          string   `mapstructure:"Origin"`
	CacheName       string   `mapstructure:"CacheName"`
	ImageCacheName  string   `mapstructure:"ImageCacheName"`
	CacheVersion    string   `mapstructure:"CacheVersion"`
	OfflinePage     string   `mapstructure:"OfflinePage"`
	APIPrefix       string   `mapstructure:"APIPrefix"`
	Precache        []string `mapstructure:"Precache"`
	ManifestFile    string   `mapstructure:"ManifestFile"`
	DeferActivation bool     `mapstructure:"DeferActivation"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Backend BackendConfig `mapstructure:"Backend"`
	Media   MediaConfig   `mapstructure:"Media"`
	Sites   []SiteConfig  `mapstructure:"Site"`
}

// DefaultPrecache 是未配置清单时使用的预缓存列表。
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/california-2026.html",
	"https://fonts.googleapis.com/css2?family=Poppins:wght@400;600;700;900&display=swap",
	"https://fonts.googleapis.com/css2?family=Playfair+Display:wght@400;600;700;900&family=Poppins:wght@300;400;500;600;700&display=swap",
}

// HasCredentials 表示当前媒体配置是否具备完整凭证。
func (m MediaConfig) HasCredentials() bool {
	switch m.Provider {
	case MediaCloudinary:
		return m.CloudName != "" && m.APIKey != "" && m.APISecret != ""
	case MediaMinIO:
		return m.AccessKey != "" && m.SecretKey != ""
	default:
		return false
	}
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (m MediaConfig) AuthMode() string {
	if m.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// SiteNames 返回 name:version 形式的站点摘要，用于启动日志。
func SiteNames(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s", site.Name, site.CacheVersion)
	}
	return result
}

// Fingerprint 汇总会影响已安装缓存的字段；热加载时指纹变化才需要安装新 Worker。
func (s SiteConfig) Fingerprint() string {
	parts := []string{
		s.Origin,
		s.CacheName,
		s.ImageCacheName,
		s.CacheVersion,
		s.OfflinePage,
		s.APIPrefix,
		strconv.FormatBool(s.DeferActivation),
	}
	parts = append(parts, s.Precache...)
	return strings.Join(parts, "\n")
}
