package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 || g.LogMaxAge < 0 {
		return newFieldError("Global.LogMaxSize", "日志轮转参数不能为负数")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RevalidateTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RevalidateTimeout", "必须大于 0")
	}

	if err := c.Backend.validate(); err != nil {
		return err
	}
	if err := c.Media.validate(); err != nil {
		return err
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError(siteField("", "Name"), "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		if _, exists := seenDomains[site.Domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "与其它站点重复")
		}
		seenDomains[site.Domain] = struct{}{}

		if err := validateUpstream(site.Origin); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
		}
		if strings.TrimSpace(site.CacheVersion) == "" {
			return newFieldError(siteField(site.Name, "CacheVersion"), "不能为空")
		}
		if site.CacheName == site.ImageCacheName {
			return newFieldError(siteField(site.Name, "ImageCacheName"), "不能与 CacheName 相同")
		}
		if !strings.HasPrefix(site.APIPrefix, "/") {
			return newFieldError(siteField(site.Name, "APIPrefix"), "必须以 / 开头")
		}
		if len(site.Precache) == 0 {
			return newFieldError(siteField(site.Name, "Precache"), "至少需要一个条目")
		}
	}

	return nil
}

func (b BackendConfig) validate() error {
	switch b.Variant {
	case BackendPersistent:
		if strings.TrimSpace(b.DataFile) == "" {
			return newFieldError("Backend.DataFile", "persistent 变体需要数据文件")
		}
	case BackendEdge:
		if strings.TrimSpace(b.KVPath) == "" {
			return newFieldError("Backend.KVPath", "edge 变体需要 KV 目录")
		}
		if strings.TrimSpace(b.Tag) == "" {
			return newFieldError("Backend.Tag", "edge 变体需要媒体标签")
		}
		if b.MaxResults <= 0 || b.MaxResults > 500 {
			return newFieldError("Backend.MaxResults", "必须在 1-500")
		}
	default:
		return newFieldError("Backend.Variant", "仅支持 persistent|edge")
	}
	return nil
}

func (m MediaConfig) validate() error {
	switch m.Provider {
	case MediaCloudinary:
		if m.CloudName == "" {
			return newFieldError("Media.CloudName", "不能为空")
		}
		if err := validateUpstream(m.APIBase); err != nil {
			return fmt.Errorf("Media.APIBase: %w", err)
		}
	case MediaMinIO:
		if m.Endpoint == "" {
			return newFieldError("Media.Endpoint", "不能为空")
		}
		if strings.Contains(m.Endpoint, "://") {
			return newFieldError("Media.Endpoint", "只填写 host:port，不包含协议头")
		}
		if m.Bucket == "" {
			return newFieldError("Media.Bucket", "不能为空")
		}
	default:
		return newFieldError("Media.Provider", "仅支持 cloudinary|minio")
	}
	if (m.APIKey == "") != (m.APISecret == "") {
		return newFieldError("Media.APIKey/APISecret", "必须同时提供或同时留空")
	}
	if (m.AccessKey == "") != (m.SecretKey == "") {
		return newFieldError("Media.AccessKey/SecretKey", "必须同时提供或同时留空")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
