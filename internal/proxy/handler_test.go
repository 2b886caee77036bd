package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humble-halal/offline-hub/internal/bgsync"
	"github.com/humble-halal/offline-hub/internal/cache"
	"github.com/humble-halal/offline-hub/internal/config"
	"github.com/humble-halal/offline-hub/internal/server"
	"github.com/humble-halal/offline-hub/internal/worker"
)

const siteHost = "humblehalal.local"

type upstreamStub struct {
	server *httptest.Server
	hits   map[string]*atomic.Int32
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{hits: map[string]*atomic.Int32{}}
	pages := map[string]struct {
		contentType string
		body        string
	}{
		"/":                 {"text/html", "<html>home</html>"},
		"/offline.html":     {"text/html", "<html>offline</html>"},
		"/api/reviews":      {"application/json", `{"reviews":[]}`},
		"/assets/logo.svg":  {"image/svg+xml", "<svg/>"},
		"/images/cover.png": {"image/png", "png-bytes"},
	}
	for p := range pages {
		stub.hits[p] = &atomic.Int32{}
	}

	mux := http.NewServeMux()
	for p, page := range pages {
		counter := stub.hits[p]
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != p {
				http.NotFound(w, r)
				return
			}
			counter.Add(1)
			w.Header().Set("Content-Type", page.contentType)
			_, _ = io.WriteString(w, page.body)
		})
	}
	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Method", r.Method)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *upstreamStub) count(p string) int32 {
	return s.hits[p].Load()
}

type proxyHarness struct {
	app       *fiber.App
	forwarder *Forwarder
	provider  *cache.MemoryProvider
	upstream  *upstreamStub
}

func newProxyHarness(t *testing.T) *proxyHarness {
	t.Helper()
	upstream := newUpstreamStub(t)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			StorageDriver:   config.StorageMemory,
			UpstreamTimeout: config.Duration(5 * time.Second),
			InstallTimeout:  config.Duration(5 * time.Second),
		},
		Sites: []config.SiteConfig{{
			Name:         "web",
			Domain:       siteHost,
			Upstream:     upstream.server.URL,
			CachePrefix:  "humble-halal",
			CacheVersion: "v2",
			OfflinePage:  "/offline.html",
			Precache:     []string{"/", "/offline.html"},
		}},
	}
	registry, err := server.NewSiteRegistry(cfg)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	provider := cache.NewMemoryProvider()

	forwarder, err := Boot(context.Background(), BootOptions{
		Config:   cfg,
		Registry: registry,
		Provider: provider,
		Logger:   logger,
		Metrics:  worker.NewMetrics(),
		Syncs:    &bgsync.Registry{},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, forwarder.Shutdown(context.Background()))
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      forwarder,
		ListenPort: 5000,
	})
	require.NoError(t, err)

	return &proxyHarness{app: app, forwarder: forwarder, provider: provider, upstream: upstream}
}

func (h *proxyHarness) do(t *testing.T, method, target string, header http.Header, body io.Reader) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, "http://"+siteHost+target, body)
	req.Host = siteHost
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, string(data)
}

func TestBootInstallsAndActivatesSites(t *testing.T) {
	h := newProxyHarness(t)

	w, ok := h.forwarder.Worker("web")
	require.True(t, ok)
	assert.Equal(t, worker.StateActivated, w.State())
	assert.EqualValues(t, 1, h.upstream.count("/"))
	assert.EqualValues(t, 1, h.upstream.count("/offline.html"))

	store, err := h.provider.Open(context.Background(), w.StoreNames().Static)
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestHandlerNetworkFirstForAPI(t *testing.T) {
	h := newProxyHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/reviews", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reviews":[]}`, body)
	assert.Equal(t, "network-first", resp.Header.Get(HeaderCacheStrategy))
	assert.Equal(t, "network", resp.Header.Get(HeaderCacheOutcome))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	h.do(t, http.MethodGet, "/api/reviews", nil, nil)
	assert.EqualValues(t, 2, h.upstream.count("/api/reviews"))
}

func TestHandlerCacheFirstServesFromCache(t *testing.T) {
	h := newProxyHarness(t)

	resp, body := h.do(t, http.MethodGet, "/assets/logo.svg", nil, nil)
	assert.Equal(t, "cache-first", resp.Header.Get(HeaderCacheStrategy))
	assert.Equal(t, "network", resp.Header.Get(HeaderCacheOutcome))
	assert.Equal(t, "<svg/>", body)

	resp, body = h.do(t, http.MethodGet, "/assets/logo.svg", nil, nil)
	assert.Equal(t, "hit", resp.Header.Get(HeaderCacheOutcome))
	assert.Equal(t, "<svg/>", body)
	assert.EqualValues(t, 1, h.upstream.count("/assets/logo.svg"))
}

func TestHandlerStaleWhileRevalidateForImages(t *testing.T) {
	h := newProxyHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/images/cover.png", nil, nil)
	assert.Equal(t, "stale-while-revalidate", resp.Header.Get(HeaderCacheStrategy))
	assert.Equal(t, "network", resp.Header.Get(HeaderCacheOutcome))

	resp, body := h.do(t, http.MethodGet, "/images/cover.png", nil, nil)
	assert.Equal(t, "stale", resp.Header.Get(HeaderCacheOutcome))
	assert.Equal(t, "png-bytes", body)

	require.NoError(t, h.forwarder.Shutdown(context.Background()))
	assert.EqualValues(t, 2, h.upstream.count("/images/cover.png"))
}

func TestHandlerPassthroughForPost(t *testing.T) {
	h := newProxyHarness(t)

	header := http.Header{"Content-Type": []string{"text/plain"}}
	resp, body := h.do(t, http.MethodPost, "/api/echo", header, strings.NewReader("hello"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", body)
	assert.Equal(t, http.MethodPost, resp.Header.Get("X-Upstream-Method"))
	assert.Equal(t, "passthrough", resp.Header.Get(HeaderCacheStrategy))
	assert.Equal(t, "passthrough", resp.Header.Get(HeaderCacheOutcome))
}

func TestHandlerOfflineNavigationAndNetworkError(t *testing.T) {
	h := newProxyHarness(t)
	h.upstream.server.Close()

	nav := http.Header{"Accept": []string{"text/html,application/xhtml+xml"}}
	resp, body := h.do(t, http.MethodGet, "/business/halal-cafe", nav, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>offline</html>", body)
	assert.Equal(t, "offline", resp.Header.Get(HeaderCacheOutcome))

	resp, body = h.do(t, http.MethodGet, "/api/unknown", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "network_unavailable")

	resp, body = h.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recovered", resp.Header.Get(HeaderCacheOutcome))
	assert.Equal(t, "<html>home</html>", body)
}
