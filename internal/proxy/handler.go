package proxy

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/humble-halal/offline-hub/internal/server"
	"github.com/humble-halal/offline-hub/internal/worker"
)

// 响应头：向客户端暴露本次请求命中的策略与结果，便于排查缓存行为。
const (
	HeaderCacheStrategy = "X-Cache-Strategy"
	HeaderCacheOutcome  = "X-Cache-Outcome"
)

// Handler 负责在 Fiber 请求与 worker.Request/cache.Response 之间转换，
// 策略选择、缓存读写全部交给站点的 CachingWorker。
type Handler struct {
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler with the shared logger.
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{logger: logger}
}

// Serve 把当前请求交给 worker，并把结果写回客户端。
func (h *Handler) Serve(c fiber.Ctx, route *server.SiteRoute, w *worker.CachingWorker) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := buildWorkerRequest(c, route)
	if err != nil {
		h.logResult(route, "", requestID, nil, started, err)
		setRequestIDHeader(c, requestID)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	result, err := w.Handle(c.Context(), req)
	if err != nil {
		h.logResult(route, req.Key(), requestID, nil, started, err)
		setRequestIDHeader(c, requestID)
		if errors.Is(err, worker.ErrNetworkUnavailable) {
			return h.writeError(c, fiber.StatusBadGateway, "network_unavailable")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "worker_failed")
	}

	h.logResult(route, req.Key(), requestID, result, started, nil)
	return writeResult(c, result, requestID)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	upstream string,
	requestID string,
	result *worker.Result,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result != nil {
		fields["strategy"] = strategyLabel(result)
		fields["store"] = result.Decision.Store.String()
		fields["outcome"] = string(result.Outcome)
		fields["cache_hit"] = fromCache(result.Outcome)
		if result.Response != nil {
			fields["upstream_status"] = result.Response.Status
		}
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildWorkerRequest 把路由中间件解析出的 SiteRequest 转为 worker.Request。
func buildWorkerRequest(c fiber.Ctx, route *server.SiteRoute) (*worker.Request, error) {
	siteReq, err := server.CurrentSiteRequest(c, route)
	if err != nil {
		return nil, err
	}
	req := &worker.Request{
		Method:   siteReq.Method,
		URL:      siteReq.Target,
		Header:   siteReq.Header.Clone(),
		Navigate: siteReq.Navigate,
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

func writeResult(c fiber.Ctx, result *worker.Result, requestID string) error {
	resp := result.Response
	if resp == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderCacheStrategy, strategyLabel(result))
	c.Set(HeaderCacheOutcome, string(result.Outcome))
	setRequestIDHeader(c, requestID)

	status := resp.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)
	return c.Send(resp.Body)
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func strategyLabel(result *worker.Result) string {
	if result == nil || !result.Intercepted {
		return "passthrough"
	}
	return result.Decision.Strategy.String()
}

func fromCache(outcome worker.Outcome) bool {
	switch outcome {
	case worker.OutcomeHit, worker.OutcomeStale, worker.OutcomeRecovered:
		return true
	default:
		return false
	}
}
