package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是站点可选的 YAML 预缓存清单。
type Manifest struct {
	Precache    []string `yaml:"precache"`
	OfflinePage string   `yaml:"offline_page"`
}

// LoadManifest 读取 YAML 清单；相对路径按配置文件所在目录解析。
func LoadManifest(path, baseDir string) (*Manifest, error) {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}
	cleaned := m.Precache[:0]
	for _, entry := range m.Precache {
		if entry = strings.TrimSpace(entry); entry != "" {
			cleaned = append(cleaned, entry)
		}
	}
	m.Precache = cleaned
	if len(m.Precache) == 0 {
		return nil, fmt.Errorf("清单 %s 没有任何条目", path)
	}
	return &m, nil
}

// applyManifest 用清单内容覆盖站点的 Precache 与 OfflinePage。
func applyManifest(site *SiteConfig, baseDir string) error {
	if strings.TrimSpace(site.ManifestFile) == "" {
		return nil
	}
	m, err := LoadManifest(site.ManifestFile, baseDir)
	if err != nil {
		return fmt.Errorf("%s: %w", siteField(site.Name, "ManifestFile"), err)
	}
	site.Precache = m.Precache
	if m.OfflinePage != "" {
		site.OfflinePage = m.OfflinePage
	}
	return nil
}
