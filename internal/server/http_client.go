package server

import (
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/humble-halal/offline-hub/internal/config"
)

const defaultUpstreamTimeout = 30 * time.Second

// newTransport 为每个站点创建独立的连接池；proxyURL 为空时沿用环境变量中的代理设置。
func newTransport(proxyURL *url.URL) *http.Transport {
	proxy := http.ProxyFromEnvironment
	if proxyURL != nil {
		proxy = http.ProxyURL(proxyURL)
	}
	return &http.Transport{
		Proxy:                 proxy,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回不带站点代理的上游 client，超时取 UpstreamTimeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	return NewSiteClient(cfg, nil)
}

// NewSiteClient 为单个站点构造上游 client；worker 的全部网络请求都经由它发出。
func NewSiteClient(cfg *config.Config, proxyURL *url.URL) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(proxyURL),
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// 由本进程重新生成的请求头，不原样发给上游。
// Accept-Encoding 交给 http.Client 协商，缓存中只保存解压后的正文。
var regeneratedHeaders = map[string]struct{}{
	"Host":            {},
	"Content-Length":  {},
	"Accept-Encoding": {},
}

// ForwardHeaders 返回可以转发给站点上游的请求头副本：
// 去掉 hop-by-hop 字段、Connection 中点名的字段，以及由 http.Client 重新生成的字段。
func ForwardHeaders(src http.Header) http.Header {
	named := connectionTokens(src)
	dst := make(http.Header, len(src))
	for key, values := range src {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if isHopByHopHeader(canonical) {
			continue
		}
		if _, ok := regeneratedHeaders[canonical]; ok {
			continue
		}
		if _, ok := named[canonical]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
	return dst
}

func connectionTokens(header http.Header) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, value := range header.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}

func isHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}
