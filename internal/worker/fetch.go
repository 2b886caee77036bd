package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/humble-halal/offline-hub/internal/cache"
)

// ErrNetworkUnavailable 是唯一的领域错误：离线、DNS 失败、超时或读取正文中断。
var ErrNetworkUnavailable = errors.New("network unavailable")

// Fetcher 是网络一侧的抽象，测试可注入假实现或 httpmock 客户端。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 通过共享 http.Client 发起请求，并把完整正文读入内存。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 使用 client 构造 Fetcher；client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch 返回上游响应；非 2xx 同样作为响应返回，只有传输层失败才是错误。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errNilRequest
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("read upstream body: %w", err))
	}

	source := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		source = resp.Request.URL.String()
	}
	return &cache.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   payload,
		URL:    source,
	}, nil
}

// networkError 保证返回的错误可以用 errors.Is(err, ErrNetworkUnavailable) 判断。
func networkError(err error) error {
	if err == nil || errors.Is(err, ErrNetworkUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
}
