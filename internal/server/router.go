package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component that hands a site request to its
// caching worker. It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *SiteRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRoute     = "_offlinehub_route"
	contextKeyRequestID = "_offlinehub_request_id"
)

// NewApp builds the Fiber front: every non-diagnostics request is mapped to a
// site by Host, resolved against that site's upstream and handed to Proxy.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	router := &siteRouter{opts: opts}
	app.Use(recover.New())
	app.Use(router.middleware)
	app.All("/*", router.dispatch)

	return app, nil
}

type siteRouter struct {
	opts AppOptions
}

// middleware 生成请求 ID，按 Host 找到站点，并把请求解析为指向站点上游的 SiteRequest。
func (r *siteRouter) middleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)

	if isDiagnosticsPath(string(c.Request().URI().Path())) {
		return c.Next()
	}

	host := strings.TrimSpace(getHostHeader(c))
	route, ok := r.opts.Registry.Lookup(host)
	if !ok {
		return r.hostUnmapped(c, host)
	}

	siteReq, err := ResolveSiteRequest(c, route)
	if err != nil {
		r.opts.Logger.WithFields(logrus.Fields{
			"action": "site_request",
			"site":   route.Config.Name,
			"host":   host,
		}).WithError(err).Warn("site request rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	c.Locals(contextKeyRoute, route)
	c.Locals(contextKeySiteRequest, siteReq)
	return c.Next()
}

func (r *siteRouter) dispatch(c fiber.Ctx) error {
	if isDiagnosticsPath(string(c.Request().URI().Path())) {
		return c.Next()
	}
	route, ok := getRouteFromContext(c)
	if !ok {
		return r.hostUnmapped(c, "")
	}
	return r.opts.Proxy.Handle(c, route)
}

func (r *siteRouter) hostUnmapped(c fiber.Ctx, host string) error {
	r.opts.Logger.WithFields(logrus.Fields{
		"action": "host_lookup",
		"host":   host,
		"port":   r.opts.ListenPort,
		"sites":  len(r.opts.Registry.List()),
	}).Warn("host unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*SiteRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*SiteRoute)
	return route, ok && route != nil
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
