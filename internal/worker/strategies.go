package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humble-halal/offline-hub/internal/cache"
	"github.com/humble-halal/offline-hub/internal/logging"
	"github.com/humble-halal/offline-hub/internal/strategy"
)

// Outcome 记录一次 fetch 最终以哪种方式得到响应。
type Outcome string

const (
	// OutcomeNetwork: 响应来自网络。
	OutcomeNetwork Outcome = "network"
	// OutcomeHit: cache-first 命中缓存，未访问网络。
	OutcomeHit Outcome = "hit"
	// OutcomeStale: stale-while-revalidate 返回旧副本，后台刷新中。
	OutcomeStale Outcome = "stale"
	// OutcomeRecovered: 网络失败，改由任意仓库中的缓存应答。
	OutcomeRecovered Outcome = "recovered"
	// OutcomeOffline: 网络失败且无缓存，导航请求拿到离线页。
	OutcomeOffline Outcome = "offline"
	// OutcomePassthrough: 非 GET 或非 http(s)，未进入策略路由。
	OutcomePassthrough Outcome = "passthrough"
	// OutcomeFailed: 网络失败且无任何可用回退。
	OutcomeFailed Outcome = "failed"
)

// Result 是 Handle 的返回值：响应本身以及用于日志/响应头的分类信息。
type Result struct {
	Response    *cache.Response
	Decision    strategy.Decision
	Outcome     Outcome
	Intercepted bool
}

// OnFetch 处理一次请求并只返回响应。
func (w *CachingWorker) OnFetch(ctx context.Context, req *Request) (*cache.Response, error) {
	result, err := w.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// Handle 对 GET http(s) 请求分类并执行对应策略，其他请求原样转发，不读写缓存。
func (w *CachingWorker) Handle(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.URL == nil {
		return nil, errNilRequest
	}
	started := time.Now()

	if !Intercepts(req) {
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			w.metrics.observeFetch(w.site, "none", OutcomeFailed, started)
			return nil, networkError(err)
		}
		w.metrics.observeFetch(w.site, "none", OutcomePassthrough, started)
		return &Result{Response: resp, Outcome: OutcomePassthrough}, nil
	}

	decision := w.table.Classify(req.URL)
	var (
		result *Result
		err    error
	)
	switch decision.Strategy {
	case strategy.CacheFirst:
		result, err = w.cacheFirst(ctx, req, decision)
	case strategy.StaleWhileRevalidate:
		result, err = w.staleWhileRevalidate(ctx, req, decision)
	default:
		result, err = w.networkFirst(ctx, req, decision)
	}

	outcome := OutcomeFailed
	if result != nil {
		result.Intercepted = true
		outcome = result.Outcome
	}
	w.metrics.observeFetch(w.site, decision.Strategy.String(), outcome, started)

	fields := logging.RequestFields(w.site, w.domain, decision.Strategy.String(), decision.Store.String(),
		string(outcome), outcome == OutcomeHit || outcome == OutcomeStale || outcome == OutcomeRecovered)
	fields["url"] = req.Key()
	fields["navigate"] = req.Navigate
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
		return nil, err
	}
	w.logger.WithFields(fields).Debug("fetch_completed")
	return result, nil
}

// networkFirst: 先请求网络；失败时依次尝试任意仓库、离线页（仅导航）。
func (w *CachingWorker) networkFirst(ctx context.Context, req *Request, d strategy.Decision) (*Result, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		w.put(ctx, d.Store, req, resp)
		return &Result{Response: resp, Decision: d, Outcome: OutcomeNetwork}, nil
	}
	if cached := w.matchAny(ctx, req.Key()); cached != nil {
		return &Result{Response: cached, Decision: d, Outcome: OutcomeRecovered}, nil
	}
	return w.fallback(ctx, req, d, err)
}

// cacheFirst: 命中即返回且不访问网络；未命中时请求网络并写入。
func (w *CachingWorker) cacheFirst(ctx context.Context, req *Request, d strategy.Decision) (*Result, error) {
	if cached := w.matchAny(ctx, req.Key()); cached != nil {
		return &Result{Response: cached, Decision: d, Outcome: OutcomeHit}, nil
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return w.fallback(ctx, req, d, err)
	}
	w.put(ctx, d.Store, req, resp)
	return &Result{Response: resp, Decision: d, Outcome: OutcomeNetwork}, nil
}

// staleWhileRevalidate: 有缓存时立即返回旧副本并在后台刷新，刷新失败保留旧条目；
// 没有缓存时等待网络结果，网络失败再回退到任意仓库。
func (w *CachingWorker) staleWhileRevalidate(ctx context.Context, req *Request, d strategy.Decision) (*Result, error) {
	key := req.Key()
	if cached := w.matchStore(ctx, d.Store, key); cached != nil {
		w.revalidate(ctx, req.Clone(), d)
		return &Result{Response: cached, Decision: d, Outcome: OutcomeStale}, nil
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		if cached := w.matchAny(ctx, key); cached != nil {
			return &Result{Response: cached, Decision: d, Outcome: OutcomeRecovered}, nil
		}
		return w.fallback(ctx, req, d, err)
	}
	w.put(ctx, d.Store, req, resp)
	return &Result{Response: resp, Decision: d, Outcome: OutcomeNetwork}, nil
}

// revalidate 在脱离请求生命周期的 goroutine 中刷新条目，Wait 可等待其结束。
func (w *CachingWorker) revalidate(parent context.Context, req *Request, d strategy.Decision) {
	ctx := context.WithoutCancel(parent)
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			w.metrics.observeRevalidation(w.site, "failed")
			w.logger.WithFields(logrus.Fields{
				"action": "revalidate",
				"site":   w.site,
				"url":    req.Key(),
			}).WithError(err).Debug("revalidate_failed")
			return
		}
		if w.put(ctx, d.Store, req, resp) {
			w.metrics.observeRevalidation(w.site, "updated")
			return
		}
		w.metrics.observeRevalidation(w.site, "skipped")
	}()
}

// fallback 在网络失败且无缓存时执行：导航请求返回离线页，其余请求返回网络错误。
func (w *CachingWorker) fallback(ctx context.Context, req *Request, d strategy.Decision, cause error) (*Result, error) {
	if req.Navigate {
		return &Result{Response: w.offlineResponse(ctx), Decision: d, Outcome: OutcomeOffline}, nil
	}
	return nil, networkError(cause)
}

// offlineResponse 优先返回预缓存的离线页，缺失时返回内置的 503 页面。
func (w *CachingWorker) offlineResponse(ctx context.Context) *cache.Response {
	req, err := w.resolve(w.offlinePage)
	if err == nil {
		if cached := w.matchAny(ctx, req.Key()); cached != nil {
			return cached
		}
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(builtinOfflinePage),
		URL:    w.offlinePage,
	}
}

const builtinOfflinePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>Offline</title></head>
<body><h1>You are offline</h1><p>Check your connection and try again.</p></body>
</html>
`

// put 写入目标仓库；失败只记录日志，不影响已经拿到的网络响应。
// 携带凭据的请求得到的是某个用户的响应，不进入共享仓库。
func (w *CachingWorker) put(ctx context.Context, kind strategy.StoreKind, req *Request, resp *cache.Response) bool {
	if carriesCredentials(req) {
		return false
	}
	key := req.Key()
	name := w.names.Name(kind)
	store, err := w.provider.Open(ctx, name)
	if err != nil {
		w.logCacheError(err, "cache_open_failed", name, key)
		return false
	}
	stored, err := cache.NewWriter(store, w.maxBody).Put(ctx, key, resp)
	if err != nil {
		w.logCacheError(err, "cache_put_failed", name, key)
		return false
	}
	return stored
}

// matchStore 只在目标仓库中查找；读取失败按未命中处理。
func (w *CachingWorker) matchStore(ctx context.Context, kind strategy.StoreKind, key string) *cache.Response {
	name := w.names.Name(kind)
	exists, err := w.provider.Has(ctx, name)
	if err != nil {
		w.logCacheError(err, "cache_get_failed", name, key)
		return nil
	}
	if !exists {
		return nil
	}
	store, err := w.provider.Open(ctx, name)
	if err != nil {
		w.logCacheError(err, "cache_open_failed", name, key)
		return nil
	}
	resp, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logCacheError(err, "cache_get_failed", name, key)
		}
		return nil
	}
	return resp
}

// matchAny 按仓库创建顺序在全部仓库中查找。
func (w *CachingWorker) matchAny(ctx context.Context, key string) *cache.Response {
	resp, err := w.provider.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logCacheError(err, "cache_get_failed", "*", key)
		}
		return nil
	}
	return resp
}

func (w *CachingWorker) logCacheError(err error, msg, store, key string) {
	w.logger.WithError(err).
		WithFields(logrus.Fields{"site": w.site, "store": store, "url": key}).
		Warn(msg)
}
