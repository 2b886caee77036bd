package config

import (
	"fmt"
	"net/url"
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

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储驱动，与 cache.Driver* 常量保持一致。
const (
	StorageDisk   = "disk"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	InstallTimeout  Duration `mapstructure:"InstallTimeout"`
	MaxBodySize     int64    `mapstructure:"MaxBodySize"`
}

// SiteConfig 描述一个站点：它的 Host 映射、上游 origin 以及 worker 的缓存参数。
type SiteConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
	Proxy    string `mapstructure:"Proxy"`

	// CachePrefix/CacheVersion 组成仓库名，修改 CacheVersion 即触发旧仓库回收。
	CachePrefix  string `mapstructure:"CachePrefix"`
	CacheVersion string `mapstructure:"CacheVersion"`
	OfflinePage  string `mapstructure:"OfflinePage"`
	// Precache 为空时使用 worker 内置的 App Shell 清单。
	Precache []string `mapstructure:"Precache"`

	BackendHosts []string `mapstructure:"BackendHosts"`
	ImageHosts   []string `mapstructure:"ImageHosts"`
	SyncTag      string   `mapstructure:"SyncTag"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// UpstreamURL 解析站点上游地址（假定 Validate 已经通过）。
func (s SiteConfig) UpstreamURL() (*url.URL, error) {
	return url.Parse(s.Upstream)
}

// ProxyURL 解析可选的出站代理，未配置时返回 nil。
func (s SiteConfig) ProxyURL() (*url.URL, error) {
	if strings.TrimSpace(s.Proxy) == "" {
		return nil, nil
	}
	return url.Parse(s.Proxy)
}

// SiteSummaries 返回所有站点的 name:prefix-version 摘要，供启动日志使用。
func SiteSummaries(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		result[i] = fmt.Sprintf("%s:%s-%s", site.Name, site.CachePrefix, site.CacheVersion)
	}
	return result
}
