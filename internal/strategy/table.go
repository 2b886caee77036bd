package strategy

import (
	"fmt"
	"net/url"
	"strings"
)

// MatchKind 决定 Rule.Pattern 与 URL 的哪一部分比较。
type MatchKind int

const (
	// PathPrefix 匹配 URL path 前缀，例如 /api/。
	PathPrefix MatchKind = iota
	// HostContains 匹配 hostname 片段，例如 supabase.co。
	HostContains
	// PathSuffix 匹配 path 后缀（文件扩展名），大小写不敏感。
	PathSuffix
)

func (k MatchKind) String() string {
	switch k {
	case PathPrefix:
		return "path-prefix"
	case HostContains:
		return "host-contains"
	case PathSuffix:
		return "path-suffix"
	default:
		return fmt.Sprintf("match(%d)", int(k))
	}
}

func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Rule 是分类表中的一行。
type Rule struct {
	Strategy Strategy  `json:"strategy"`
	Store    StoreKind `json:"store"`
	Kind     MatchKind `json:"match"`
	Pattern  string    `json:"pattern"`
}

// Matches 报告 u 是否命中该规则。
func (r Rule) Matches(u *url.URL) bool {
	if u == nil || r.Pattern == "" {
		return false
	}
	switch r.Kind {
	case PathPrefix:
		return strings.HasPrefix(u.EscapedPath(), r.Pattern)
	case HostContains:
		return strings.Contains(strings.ToLower(u.Hostname()), strings.ToLower(r.Pattern))
	case PathSuffix:
		return strings.HasSuffix(strings.ToLower(u.Path), strings.ToLower(r.Pattern))
	default:
		return false
	}
}

// Decision 是一次分类的结果：策略 + 目标仓库，以及命中的规则（默认回退时为空）。
type Decision struct {
	Strategy Strategy  `json:"strategy"`
	Store    StoreKind `json:"store"`
	Rule     *Rule     `json:"rule,omitempty"`
}

// Default 报告该决策是否来自兜底规则。
func (d Decision) Default() bool {
	return d.Rule == nil
}

// Table 是不可变的有序分类表。零值表示只有兜底规则。
type Table struct {
	rules []Rule
}

// NewTable 复制 rules 构造分类表，调用方之后对切片的修改不会影响表。
func NewTable(rules ...Rule) Table {
	return Table{rules: append([]Rule(nil), rules...)}
}

// Rules 返回规则副本。
func (t Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Classify 自上而下匹配，第一个命中的规则胜出；全部未命中时回退 network-first + dynamic。
func (t Table) Classify(u *url.URL) Decision {
	for i := range t.rules {
		if t.rules[i].Matches(u) {
			rule := t.rules[i]
			return Decision{Strategy: rule.Strategy, Store: rule.Store, Rule: &rule}
		}
	}
	return Decision{Strategy: NetworkFirst, Store: StoreDynamic}
}

// 默认分类表中的固定模式。
var (
	DefaultBackendHosts = []string{"supabase.co"}
	DefaultImageHosts   = []string{"unsplash.com", "cloudinary.com"}

	apiPrefixes      = []string{"/api/"}
	staticPrefixes   = []string{"/assets/", "/icons/", "/badges/"}
	imageExtensions  = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}
	staticExtensions = []string{".js", ".css", ".woff2", ".woff"}
)

// DefaultTable 构建站点使用的分类表。顺序：
//
//  1. network-first：/api/ 前缀、后端服务 hostname 片段
//  2. cache-first：/assets/ /icons/ /badges/ 应用壳目录
//  3. stale-while-revalidate：图片 CDN hostname、图片扩展名
//  4. cache-first：脚本/样式/字体扩展名
//
// 空的 backendHosts/imageHosts 使用 DefaultBackendHosts/DefaultImageHosts。
func DefaultTable(backendHosts, imageHosts []string) Table {
	if len(backendHosts) == 0 {
		backendHosts = DefaultBackendHosts
	}
	if len(imageHosts) == 0 {
		imageHosts = DefaultImageHosts
	}

	var rules []Rule
	add := func(s Strategy, store StoreKind, kind MatchKind, patterns []string) {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			rules = append(rules, Rule{Strategy: s, Store: store, Kind: kind, Pattern: p})
		}
	}

	add(NetworkFirst, StoreDynamic, PathPrefix, apiPrefixes)
	add(NetworkFirst, StoreDynamic, HostContains, backendHosts)
	add(CacheFirst, StoreStatic, PathPrefix, staticPrefixes)
	add(StaleWhileRevalidate, StoreImages, HostContains, imageHosts)
	add(StaleWhileRevalidate, StoreImages, PathSuffix, imageExtensions)
	add(CacheFirst, StoreStatic, PathSuffix, staticExtensions)

	return NewTable(rules...)
}
