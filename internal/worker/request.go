package worker

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request 是被拦截请求的描述：方法、URL、是否为页面导航，以及透传的头和正文。
type Request struct {
	Method   string
	URL      *url.URL
	Navigate bool
	Header   http.Header
	Body     []byte
}

// NewRequest 解析 rawURL 构造请求；method 为空时视为 GET。
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: make(http.Header)}, nil
}

// Key 返回缓存键：去掉 fragment 的完整 URL。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Clone 深拷贝请求，后台刷新使用副本，避免与调用方共享可变字段。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cloned := *r
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		cloned.URL = &u
	}
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

// Intercepts 报告请求是否进入策略路由：仅 http/https 的 GET 请求。
func Intercepts(r *Request) bool {
	if r == nil || r.URL == nil {
		return false
	}
	if r.Method != "" && !strings.EqualFold(r.Method, http.MethodGet) {
		return false
	}
	switch strings.ToLower(r.URL.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// carriesCredentials 报告请求是否带有用户凭据（Authorization、Cookie 或 URL userinfo）。
func carriesCredentials(r *Request) bool {
	if r == nil {
		return false
	}
	if r.URL != nil && r.URL.User != nil {
		return true
	}
	return r.Header.Get("Authorization") != "" || r.Header.Get("Cookie") != ""
}

var errNilRequest = errors.New("request with url required")
