package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 在独立临时目录写入 config.toml，ManifestFile 等相对路径以该目录为基准。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	return writeTempFile(t, t.TempDir(), "config.toml", content)
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入 %s 失败: %v", name, err)
	}
	return path
}
