package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

// configFixture 返回 internal/config/testdata 下的配置样例路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}

// testSiteBlock 是 CLI 测试共用的最小站点配置。
const testSiteBlock = `
[[Site]]
Name = "web"
Domain = "humblehalal.local"
Upstream = "https://humblehalal.sg"
`

// writeSiteConfig 写出 global 段加最小站点的临时 offline-hub 配置，StoragePath 指向测试临时目录。
func writeSiteConfig(t *testing.T, global string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf("StoragePath = %q\n%s\n%s", filepath.Join(dir, "storage"), strings.TrimSpace(global), testSiteBlock)
	file := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
