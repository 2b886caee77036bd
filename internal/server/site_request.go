package server

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"
)

const contextKeySiteRequest = "_offlinehub_site_request"

// SiteRequest 是路由中间件针对站点请求解析出的上游视图：
// 目标地址已拼接到站点 origin，转发头已清理，并标记是否为页面导航。
type SiteRequest struct {
	Route    *SiteRoute
	Method   string
	Target   *url.URL
	Header   http.Header
	Navigate bool
}

// ResolveSiteRequest 按站点 upstream 解析当前 Fiber 请求。
func ResolveSiteRequest(c fiber.Ctx, route *SiteRoute) (*SiteRequest, error) {
	if route == nil || route.UpstreamURL == nil {
		return nil, errors.New("site route missing upstream")
	}
	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	header = ForwardHeaders(header)
	method := strings.ToUpper(c.Method())
	return &SiteRequest{
		Route:    route,
		Method:   method,
		Target:   upstreamTarget(route.UpstreamURL, c),
		Header:   header,
		Navigate: IsNavigation(method, header),
	}, nil
}

// CurrentSiteRequest 返回中间件已解析的 SiteRequest；未经过中间件时（例如直接调用 ProxyHandler）现场解析。
func CurrentSiteRequest(c fiber.Ctx, route *SiteRoute) (*SiteRequest, error) {
	if value, ok := c.Locals(contextKeySiteRequest).(*SiteRequest); ok && value.Route == route {
		return value, nil
	}
	return ResolveSiteRequest(c, route)
}

// IsNavigation 识别页面跳转：浏览器显式声明 navigate，或 GET 请求期望 HTML。
func IsNavigation(method string, header http.Header) bool {
	if strings.EqualFold(header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	if !strings.EqualFold(method, http.MethodGet) {
		return false
	}
	return strings.Contains(strings.ToLower(header.Get("Accept")), "text/html")
}

// NormalizeRequestPath 折叠 ./.. 与重复斜杠，保留结尾斜杠。
func NormalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func upstreamTarget(base *url.URL, c fiber.Ctx) *url.URL {
	relative := &url.URL{Path: NormalizeRequestPath(string(c.Request().URI().Path()))}
	if rawQuery := c.Request().URI().QueryString(); len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	return base.ResolveReference(relative)
}
