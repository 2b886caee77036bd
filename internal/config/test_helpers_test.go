package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把 content 写入临时目录下的 config.toml 并返回路径。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// webSite 返回名为 web 的最小 [[Site]] 段，siteLines 追加在站点段末尾。
func webSite(siteLines ...string) string {
	var b strings.Builder
	b.WriteString("\n[[Site]]\nName = \"web\"\nDomain = \"humblehalal.local\"\nUpstream = \"https://humblehalal.sg\"\n")
	for _, line := range siteLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
