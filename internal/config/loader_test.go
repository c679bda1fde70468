package config

import (
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
StoragePath = "./storage"

[Media]
Provider = "cloudinary"
CloudName = "donnelly"

[[Site]]
Name = "donnelly"
Domain = "adventures.local"
Origin = "http://127.0.0.1:8080"
`

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `UpstreamTimeout = "boom"`+"\n"+minimalConfig)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsSiteLevelPort(t *testing.T) {
	for _, key := range []string{"Port", "port", "PORT"} {
		path := writeTempConfig(t, minimalConfig+key+" = 8080\n")
		_, err := Load(path)
		if FieldOf(err) != "Site[donnelly].Port" {
			t.Fatalf("站点级 %s 应被拒绝并指向 Site[donnelly].Port, got %v", key, err)
		}
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("CLOUDINARY_API_KEY", "env-key")
	t.Setenv("CLOUDINARY_API_SECRET", "env-secret")

	cfg, err := Load(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 4100 {
		t.Fatalf("PORT 环境变量应覆盖端口, got %d", cfg.Global.ListenPort)
	}
	if cfg.Media.APIKey != "env-key" || cfg.Media.APISecret != "env-secret" {
		t.Fatalf("Cloudinary 密钥应来自环境变量: %+v", cfg.Media)
	}
	if cfg.Media.AuthMode() != "credentialed" {
		t.Fatalf("环境变量提供密钥后应为 credentialed")
	}
}

func TestLoadResolvesManifestRelativeToConfig(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeTempConfig(t, minimalConfig+`ManifestFile = "precache.yaml"`+"\n")
	writeTempFile(t, filepath.Dir(path), "precache.yaml", "precache:\n  - /\n  - /  \n  - ''\n  - /journal.html\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	got := cfg.Sites[0].Precache
	if len(got) != 3 || got[2] != "/journal.html" {
		t.Fatalf("清单应去掉空白条目并保留顺序: %v", got)
	}
}

func TestLoadRejectsEmptyManifest(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`ManifestFile = "empty.yaml"`+"\n")
	writeTempFile(t, filepath.Dir(path), "empty.yaml", "precache: []\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("空清单应失败")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeTempConfig(t, minimalConfig)

	reloaded := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	writeTempFile(t, filepath.Dir(path), filepath.Base(path), minimalConfig+`CacheVersion = "v2"`+"\n")

	select {
	case cfg := <-reloaded:
		if cfg.Sites[0].CacheVersion != "v2" {
			t.Fatalf("热加载后应读取新版本, got %s", cfg.Sites[0].CacheVersion)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("配置写入后未触发热加载")
	}
}
