package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const supportedStorageDrivers = "disk|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.StorageDriver {
	case StorageDisk, StorageSQLite:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StorageMemory:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDrivers)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InstallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.InstallTimeout", "必须大于 0")
	}
	if g.MaxBodySize < 0 {
		return newFieldError("Global.MaxBodySize", "不能为负数")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		if err := validateUpstream(site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
		}
		if site.Proxy != "" {
			if err := validateUpstream(site.Proxy); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Proxy"), err)
			}
		}
		if err := validateStoreToken(site.CachePrefix); err != nil {
			return newFieldError(siteField(site.Name, "CachePrefix"), err.Error())
		}
		if err := validateStoreToken(site.CacheVersion); err != nil {
			return newFieldError(siteField(site.Name, "CacheVersion"), err.Error())
		}
		if !strings.HasPrefix(site.OfflinePage, "/") {
			return newFieldError(siteField(site.Name, "OfflinePage"), "必须是以 / 开头的路径")
		}
		for _, entry := range site.Precache {
			if !strings.HasPrefix(entry, "/") {
				return newFieldError(siteField(site.Name, "Precache"), fmt.Sprintf("必须是以 / 开头的路径: %s", entry))
			}
		}
	}

	// 激活时按前缀回收旧仓库，前缀互相包含的站点会误删彼此的仓库。
	for i := range c.Sites {
		for j := range c.Sites {
			if i == j {
				continue
			}
			a, b := c.Sites[i], c.Sites[j]
			if strings.HasPrefix(a.CachePrefix, b.CachePrefix) {
				return newFieldError(siteField(a.Name, "CachePrefix"),
					fmt.Sprintf("与站点 %s 的前缀 %s 冲突", b.Name, b.CachePrefix))
			}
		}
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

// validateStoreToken 保证前缀/版本可以安全拼进仓库名（也是磁盘驱动的目录名）。
func validateStoreToken(value string) error {
	if value == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, `/\ `) {
		return errors.New("不允许包含路径分隔符或空格")
	}
	if value == "." || value == ".." {
		return errors.New("不允许为 . 或 ..")
	}
	return nil
}
