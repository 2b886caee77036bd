package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/humble-halal/offline-hub/internal/logging"
	"github.com/humble-halal/offline-hub/internal/server"
	"github.com/humble-halal/offline-hub/internal/worker"
)

// Forwarder 根据 SiteRoute 的站点名选择对应的 CachingWorker，再交给 Handler 完成请求转换。
type Forwarder struct {
	handler *Handler
	logger  *logrus.Logger
	workers sync.Map
}

// NewForwarder 创建 Forwarder；handler 为空时使用默认 Handler。
func NewForwarder(handler *Handler, logger *logrus.Logger) *Forwarder {
	if handler == nil {
		handler = NewHandler(logger)
	}
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	requestID := server.RequestID(c)
	w := f.lookup(route)
	if w == nil {
		return f.respondMissingWorker(c, route, requestID)
	}
	return f.invokeWorker(c, route, w, requestID)
}

// Worker 按站点名返回已注册的 worker，诊断接口使用。
func (f *Forwarder) Worker(site string) (*worker.CachingWorker, bool) {
	value, ok := f.workers.Load(normalizeSiteKey(site))
	if !ok {
		return nil, false
	}
	w, ok := value.(*worker.CachingWorker)
	return w, ok
}

// Workers 返回全部已注册 worker，顺序不保证。
func (f *Forwarder) Workers() []*worker.CachingWorker {
	var out []*worker.CachingWorker
	f.workers.Range(func(_, value any) bool {
		if w, ok := value.(*worker.CachingWorker); ok {
			out = append(out, w)
		}
		return true
	})
	return out
}

func (f *Forwarder) respondMissingWorker(c fiber.Ctx, route *server.SiteRoute, requestID string) error {
	f.logWorkerError(route, "worker_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_missing"})
}

func (f *Forwarder) invokeWorker(c fiber.Ctx, route *server.SiteRoute, w *worker.CachingWorker, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondWorkerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Serve(c, route, w)
}

func (f *Forwarder) respondWorkerPanic(c fiber.Ctx, route *server.SiteRoute, recovered interface{}, requestID string) error {
	f.logWorkerError(route, "worker_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "worker_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logWorkerError(route *server.SiteRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("site worker unavailable")
}

func (f *Forwarder) lookup(route *server.SiteRoute) *worker.CachingWorker {
	if route == nil {
		return nil
	}
	w, _ := f.Worker(route.Config.Name)
	return w
}

func normalizeSiteKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func routeFields(route *server.SiteRoute, requestID string) logrus.Fields {
	if route == nil {
		return logrus.Fields{
			"site":      "",
			"domain":    "",
			"strategy":  "",
			"store":     "",
			"outcome":   "",
			"cache_hit": false,
		}
	}

	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, "", "", "", false)
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
