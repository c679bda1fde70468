package offline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Generations 是当前版本期望存活的两个缓存名称。
type Generations struct {
	General string `json:"general"`
	Images  string `json:"images"`
}

// NewGenerations 以 <base>-<version> 规则生成名称；修改预缓存清单或缓存策略时必须提升 version。
func NewGenerations(generalBase, imageBase, version string) Generations {
	return Generations{
		General: GenerationName(generalBase, version),
		Images:  GenerationName(imageBase, version),
	}
}

// GenerationName 拼接缓存基础名与版本号。
func GenerationName(base, version string) string {
	base = strings.TrimSpace(base)
	version = strings.TrimSpace(version)
	if version == "" {
		return base
	}
	return base + "-" + version
}

// Contains 判断 name 是否属于当前代际。
func (g Generations) Contains(name string) bool {
	return name == g.General || name == g.Images
}

// Validate 确保两个代际名称非空且互不相同。
func (g Generations) Validate() error {
	if g.General == "" || g.Images == "" {
		return errors.New("cache generation names required")
	}
	if g.General == g.Images {
		return fmt.Errorf("general and image caches share name %q", g.General)
	}
	return nil
}

// ResolveManifest 把相对路径解析为 origin 下的绝对 URL，绝对 URL（外部样式表等）保持不变。
// 保留原有顺序并去掉重复项。
func ResolveManifest(origin *url.URL, entries []string) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	result := make([]string, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		resolved, err := ResolveURL(origin, raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		result = append(result, resolved)
	}
	return result, nil
}

// ResolveURL 将单个清单条目解析为绝对 URL。
func ResolveURL(origin *url.URL, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid manifest url %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if origin == nil {
		return "", fmt.Errorf("relative manifest url %q without origin", raw)
	}
	return origin.ResolveReference(ref).String(), nil
}
