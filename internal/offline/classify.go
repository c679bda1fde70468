package offline

import (
	"net/http"
	"path"
	"strings"
)

// Strategy 是请求分类结果，每个非 bypass 的值对应一个执行器。
type Strategy string

const (
	StrategyBypass       Strategy = "bypass"
	StrategyNetworkFirst Strategy = "api"
	StrategyImage        Strategy = "image"
	StrategyGeneric      Strategy = "generic"
)

// DefaultAPIPrefix 与后端 REST 路由前缀保持一致。
const DefaultAPIPrefix = "/api/"

var defaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

// Classifier 按固定优先级把请求映射到策略，纯函数、无状态。
type Classifier struct {
	APIPrefix       string
	ImageExtensions []string
}

// NewClassifier 返回带默认图片扩展名的分类器；apiPrefix 为空时使用 /api/。
func NewClassifier(apiPrefix string) Classifier {
	if apiPrefix == "" {
		apiPrefix = DefaultAPIPrefix
	}
	return Classifier{
		APIPrefix:       apiPrefix,
		ImageExtensions: append([]string(nil), defaultImageExtensions...),
	}
}

// Classify 的顺序不可调整：API 路径绝不能走 cache-first，图片策略也不能套用到 API JSON 上。
func (c Classifier) Classify(req *Request) Strategy {
	if req == nil || req.URL == nil {
		return StrategyBypass
	}
	if req.method() != http.MethodGet {
		return StrategyBypass
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return StrategyBypass
	}
	if strings.HasPrefix(req.URL.Path, c.apiPrefix()) {
		return StrategyNetworkFirst
	}
	if req.Destination == DestinationImage || c.hasImageExtension(req.URL.Path) {
		return StrategyImage
	}
	return StrategyGeneric
}

func (c Classifier) apiPrefix() string {
	if c.APIPrefix == "" {
		return DefaultAPIPrefix
	}
	return c.APIPrefix
}

func (c Classifier) hasImageExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	exts := c.ImageExtensions
	if len(exts) == 0 {
		exts = defaultImageExtensions
	}
	for _, candidate := range exts {
		if ext == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}
