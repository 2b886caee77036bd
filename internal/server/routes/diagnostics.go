package routes

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/humble-halal/offline-hub/internal/server"
	"github.com/humble-halal/offline-hub/internal/strategy"
	"github.com/humble-halal/offline-hub/internal/worker"
)

// WorkerSource 按站点名提供已启动的 worker。
type WorkerSource interface {
	Worker(site string) (*worker.CachingWorker, bool)
}

// DiagnosticsOptions 汇总诊断接口依赖；Metrics 为空时不注册 /-/metrics。
type DiagnosticsOptions struct {
	Registry *server.SiteRegistry
	Workers  WorkerSource
	Metrics  *worker.Metrics
}

// RegisterDiagnostics 暴露 /-/ 下的诊断与事件注入接口，供 SRE 查询站点策略与缓存状态。
func RegisterDiagnostics(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Registry == nil || opts.Workers == nil {
		return
	}
	d := &diagnostics{registry: opts.Registry, workers: opts.Workers}

	app.Get("/-/sites", d.sites)
	app.Get("/-/strategies", d.strategies)
	app.Get("/-/classify", d.classify)
	app.Get("/-/caches", d.caches)
	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
	app.Post("/-/push/:site", d.push)
	app.Post("/-/notifications/:site/click", d.notificationClick)
	app.Post("/-/sync/:site/:tag", d.sync)
}

type diagnostics struct {
	registry *server.SiteRegistry
	workers  WorkerSource
}

type sitePayload struct {
	Name        string            `json:"name"`
	Domain      string            `json:"domain"`
	Upstream    string            `json:"upstream"`
	Port        int               `json:"port"`
	State       string            `json:"state"`
	SkipWaiting bool              `json:"skip_waiting"`
	Claimed     bool              `json:"claimed"`
	Stores      worker.StoreNames `json:"stores"`
	SyncTags    map[string]string `json:"sync_tags,omitempty"`
}

type rulePayload struct {
	Strategy string `json:"strategy"`
	Store    string `json:"store"`
	Match    string `json:"match"`
	Pattern  string `json:"pattern"`
}

type storePayload struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Exists  bool   `json:"exists"`
	Entries int    `json:"entries"`
}

func (d *diagnostics) sites(c fiber.Ctx) error {
	routes := d.registry.List()
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		item := sitePayload{
			Name:   route.Config.Name,
			Domain: route.Config.Domain,
			Port:   route.ListenPort,
			State:  "missing",
		}
		if route.UpstreamURL != nil {
			item.Upstream = route.UpstreamURL.String()
		}
		if w, ok := d.workers.Worker(route.Config.Name); ok {
			item.State = w.State().String()
			item.SkipWaiting = w.SkipWaiting()
			item.Claimed = w.Claimed()
			item.Stores = w.StoreNames()
			item.SyncTags = w.SyncStatus(route.Config.SyncTag)
		}
		result = append(result, item)
	}
	return c.JSON(fiber.Map{"sites": result})
}

func (d *diagnostics) strategies(c fiber.Ctx) error {
	route, w, ok := d.resolveSite(c, c.Query("site"))
	if !ok {
		return nil
	}
	table := route.Table
	if w != nil {
		table = w.Table()
	}
	return c.JSON(fiber.Map{
		"site":     route.Config.Name,
		"profiles": strategy.Profiles(),
		"rules":    encodeRules(table.Rules()),
		"fallback": rulePayload{
			Strategy: strategy.NetworkFirst.String(),
			Store:    strategy.StoreDynamic.String(),
		},
	})
}

func (d *diagnostics) classify(c fiber.Ctx) error {
	route, _, ok := d.resolveSite(c, c.Query("site"))
	if !ok {
		return nil
	}
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
	}
	target, err := url.Parse(raw)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_url"})
	}
	if !target.IsAbs() && route.UpstreamURL != nil {
		target = route.UpstreamURL.ResolveReference(target)
	}

	decision := route.Table.Classify(target)
	payload := fiber.Map{
		"site":     route.Config.Name,
		"url":      target.String(),
		"strategy": decision.Strategy.String(),
		"store":    decision.Store.String(),
		"default":  decision.Default(),
	}
	if decision.Rule != nil {
		payload["rule"] = encodeRule(*decision.Rule)
	}
	return c.JSON(payload)
}

func (d *diagnostics) caches(c fiber.Ctx) error {
	route, w, ok := d.resolveSite(c, c.Query("site"))
	if !ok {
		return nil
	}
	if w == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_missing"})
	}

	ctx := c.Context()
	provider := w.Provider()
	names := w.StoreNames()
	kinds := []strategy.StoreKind{strategy.StoreGeneric, strategy.StoreStatic, strategy.StoreDynamic, strategy.StoreImages}
	stores := make([]storePayload, 0, len(kinds))
	for _, kind := range kinds {
		item := storePayload{Kind: kind.String(), Name: names.Name(kind)}
		exists, err := provider.Has(ctx, item.Name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_unavailable"})
		}
		if exists {
			store, err := provider.Open(ctx, item.Name)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_unavailable"})
			}
			keys, err := store.Keys(ctx)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_unavailable"})
			}
			item.Exists = true
			item.Entries = len(keys)
		}
		stores = append(stores, item)
	}
	return c.JSON(fiber.Map{"site": route.Config.Name, "stores": stores})
}

func (d *diagnostics) push(c fiber.Ctx) error {
	_, w, ok := d.resolveSite(c, c.Params("site"))
	if !ok {
		return nil
	}
	if w == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_missing"})
	}
	notification, err := w.OnPush(c.Context(), c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "notification_failed"})
	}
	return c.JSON(notification)
}

type clickRequest struct {
	URL    string `json:"url"`
	Action string `json:"action"`
}

func (d *diagnostics) notificationClick(c fiber.Ctx) error {
	_, w, ok := d.resolveSite(c, c.Params("site"))
	if !ok {
		return nil
	}
	if w == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_missing"})
	}
	var req clickRequest
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
	}
	result, err := w.OnNotificationClick(c.Context(), worker.Notification{URL: req.URL}, req.Action)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "click_failed"})
	}
	return c.JSON(result)
}

func (d *diagnostics) sync(c fiber.Ctx) error {
	_, w, ok := d.resolveSite(c, c.Params("site"))
	if !ok {
		return nil
	}
	if w == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_missing"})
	}
	tag := c.Params("tag")
	if err := w.OnSync(c.Context(), tag); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed"})
	}
	return c.JSON(fiber.Map{"tag": tag, "status": w.SyncStatus(tag)})
}

// resolveSite 查找站点路由与 worker；站点缺失时直接写出错误响应并返回 false。
func (d *diagnostics) resolveSite(c fiber.Ctx, name string) (*server.SiteRoute, *worker.CachingWorker, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "site_required"})
		return nil, nil, false
	}
	route, ok := d.registry.Get(name)
	if !ok {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		return nil, nil, false
	}
	w, _ := d.workers.Worker(name)
	return route, w, true
}

func encodeRules(rules []strategy.Rule) []rulePayload {
	result := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		result = append(result, encodeRule(rule))
	}
	return result
}

func encodeRule(rule strategy.Rule) rulePayload {
	return rulePayload{
		Strategy: rule.Strategy.String(),
		Store:    rule.Store.String(),
		Match:    rule.Kind.String(),
		Pattern:  rule.Pattern,
	}
}
