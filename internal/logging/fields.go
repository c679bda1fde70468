package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点、域名、缓存策略与命中状态，供网关请求日志复用。
func RequestFields(site, domain string, strategy string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"domain":    domain,
		"strategy":  strategy,
		"cache_hit": cacheHit,
	}
}

// BackendFields 描述 REST 请求命中的后端变体与媒体托管。
func BackendFields(variant, mediaProvider, authMode string) logrus.Fields {
	return logrus.Fields{
		"backend":    variant,
		"media":      mediaProvider,
		"media_auth": authMode,
	}
}
