package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Provider 管理一组具名缓存仓库，语义与浏览器 CacheStorage 对齐：
// Open 惰性创建，Delete 整库删除，Match 跨全部仓库查找。
type Provider interface {
	// Open 返回指定名称的仓库，不存在时创建。
	Open(ctx context.Context, name string) (Store, error)

	// Has 报告仓库是否已存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个仓库，返回是否确实删除了内容。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序返回所有仓库名称。
	Keys(ctx context.Context) ([]string, error)

	// Match 依次在所有仓库中查找 key，第一个命中即返回；全部未命中返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)
}

// Store 是单个具名仓库，负责 request key → Response 的读写。
type Store interface {
	Name() string

	// Match 返回缓存的响应副本，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Response, error)

	// Put 写入（或覆盖）一个条目，后写者胜出。
	Put(ctx context.Context, key string, resp *Response) error

	// Delete 删除单个条目。
	Delete(ctx context.Context, key string) (bool, error)

	// Keys 返回仓库内全部 request key。
	Keys(ctx context.Context) ([]string, error)
}

// Response 是被缓存的一次 HTTP 响应，正文整体保存在内存中。
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	URL      string      `json:"url"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 对应 fetch Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝 Header 与 Body，避免调用方之间共享可变切片。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrStoreUnavailable 表示当前没有可用的缓存 Provider。
	ErrStoreUnavailable = errors.New("cache store unavailable")

	// ErrInvalidName 表示仓库名称不合法（为空或包含路径分隔符）。
	ErrInvalidName = errors.New("invalid cache store name")
)
