package strategy

import "fmt"

// Strategy 是三种固定缓存纪律之一。
type Strategy int

const (
	NetworkFirst Strategy = iota
	CacheFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// MarshalText 让 Strategy 在 JSON 诊断输出中以名称出现。
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StoreKind 标识四个逻辑仓库之一，具体名称由 worker 按前缀与版本拼出。
type StoreKind int

const (
	StoreGeneric StoreKind = iota
	StoreStatic
	StoreDynamic
	StoreImages
)

func (k StoreKind) String() string {
	switch k {
	case StoreGeneric:
		return "generic"
	case StoreStatic:
		return "static"
	case StoreDynamic:
		return "dynamic"
	case StoreImages:
		return "images"
	default:
		return fmt.Sprintf("store(%d)", int(k))
	}
}

func (k StoreKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Profile 是策略的静态描述，供诊断接口展示。
type Profile struct {
	Strategy    Strategy `json:"strategy"`
	Description string   `json:"description"`
}

// Profiles 按分类优先级返回全部策略描述。
func Profiles() []Profile {
	return []Profile{
		{Strategy: NetworkFirst, Description: "fetch first, store successful responses, fall back to any cache, then the offline page for navigations"},
		{Strategy: CacheFirst, Description: "serve from cache without touching the network; fetch and store on miss"},
		{Strategy: StaleWhileRevalidate, Description: "serve the cached copy immediately and refresh it in the background"},
	}
}
