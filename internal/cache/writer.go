package cache

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Writer 封装“是否值得写入缓存”的判断与写入动作，策略处理器只需调用 Put。
type Writer struct {
	store   Store
	maxBody int64
	now     func() time.Time
}

// NewWriter 构造写入器；maxBody <= 0 表示不限制正文大小。
func NewWriter(store Store, maxBody int64) Writer {
	return Writer{
		store:   store,
		maxBody: maxBody,
		now:     time.Now,
	}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.store != nil
}

// Cacheable 仅接受 2xx 且非 206 的共享响应，并遵守正文大小上限。
// 仓库由所有客户端共用，带 Set-Cookie 或 Cache-Control: private/no-store 的响应一律不写入。
func (w Writer) Cacheable(resp *Response) bool {
	if !resp.OK() || resp.Status == http.StatusPartialContent {
		return false
	}
	if w.maxBody > 0 && int64(len(resp.Body)) > w.maxBody {
		return false
	}
	return Shareable(resp.Header)
}

// Shareable 报告响应头是否允许在多个客户端之间复用。
func Shareable(header http.Header) bool {
	if len(header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, value := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}

// Put 在响应可缓存时写入，返回是否实际写入。
func (w Writer) Put(ctx context.Context, key string, resp *Response) (bool, error) {
	if w.store == nil {
		return false, ErrStoreUnavailable
	}
	if !w.Cacheable(resp) {
		return false, nil
	}
	stored := resp.Clone()
	stored.StoredAt = w.now().UTC()
	if err := w.store.Put(ctx, key, stored); err != nil {
		return false, err
	}
	return true, nil
}
