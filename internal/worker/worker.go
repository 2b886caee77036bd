package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/humble-halal/offline-hub/internal/bgsync"
	"github.com/humble-halal/offline-hub/internal/cache"
	"github.com/humble-halal/offline-hub/internal/logging"
	"github.com/humble-halal/offline-hub/internal/strategy"
)

// DefaultPrecache 是 App Shell 预缓存清单，包含离线页本身。
var DefaultPrecache = []string{"/", "/index.html", "/manifest.json", DefaultOfflinePage}

// DefaultOfflinePage 是导航请求无网无缓存时返回的页面路径。
const DefaultOfflinePage = "/offline.html"

// State 对应 service worker 的生命周期状态。
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrRedundant 表示 worker 安装失败后被废弃，不能再激活。
var ErrRedundant = errors.New("worker is redundant")

// StoreNames 是一个缓存版本下的四个仓库名称。
type StoreNames struct {
	Generic string `json:"generic"`
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
	Images  string `json:"images"`
}

// NewStoreNames 按 <prefix>-<kind>-<version> 规则拼出仓库名，generic 仓库不带 kind。
func NewStoreNames(prefix, version string) StoreNames {
	return StoreNames{
		Generic: prefix + "-" + version,
		Static:  prefix + "-static-" + version,
		Dynamic: prefix + "-dynamic-" + version,
		Images:  prefix + "-images-" + version,
	}
}

// Name 返回 kind 对应的仓库名。
func (n StoreNames) Name(kind strategy.StoreKind) string {
	switch kind {
	case strategy.StoreStatic:
		return n.Static
	case strategy.StoreDynamic:
		return n.Dynamic
	case strategy.StoreImages:
		return n.Images
	default:
		return n.Generic
	}
}

// All 以固定顺序返回全部仓库名。
func (n StoreNames) All() []string {
	return []string{n.Generic, n.Static, n.Dynamic, n.Images}
}

func (n StoreNames) contains(name string) bool {
	for _, current := range n.All() {
		if current == name {
			return true
		}
	}
	return false
}

// Options 描述一个站点 worker 的依赖与配置。
type Options struct {
	// Site 是站点名，用于日志与指标标签。
	Site   string
	Domain string
	// Origin 是站点上游地址，预缓存清单与离线页都相对它解析。
	Origin *url.URL

	CachePrefix  string
	CacheVersion string
	OfflinePage  string
	Precache     []string
	Table        strategy.Table
	MaxBodySize  int64

	Provider cache.Provider
	Fetcher  Fetcher
	Logger   *logrus.Logger
	Metrics  *Metrics

	Notifier Notifier
	Clients  Clients

	// SyncRegistry 为空时使用 bgsync.Default；ReviewTag 非默认值时会以评论处理器注册。
	SyncRegistry *bgsync.Registry
	ReviewTag    string
}

// CachingWorker 在一个站点前执行分类与缓存策略，并暴露显式的生命周期方法。
type CachingWorker struct {
	site        string
	domain      string
	origin      *url.URL
	prefix      string
	names       StoreNames
	offlinePage string
	precache    []string
	table       strategy.Table
	maxBody     int64

	provider cache.Provider
	fetcher  Fetcher
	logger   *logrus.Logger
	metrics  *Metrics
	notifier Notifier
	clients  Clients
	syncs    *bgsync.Registry

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	claimed     bool

	background sync.WaitGroup
}

// New 校验依赖并构造 worker，初始状态为 parsed。
func New(opts Options) (*CachingWorker, error) {
	if opts.Provider == nil {
		return nil, errors.New("cache provider is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("absolute site origin is required")
	}
	prefix := strings.TrimSpace(opts.CachePrefix)
	version := strings.TrimSpace(opts.CacheVersion)
	if prefix == "" || version == "" {
		return nil, errors.New("cache prefix and version are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	offline := opts.OfflinePage
	if offline == "" {
		offline = DefaultOfflinePage
	}
	precache := opts.Precache
	if precache == nil {
		precache = DefaultPrecache
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	clients := opts.Clients
	if clients == nil {
		clients = NewMemoryClients()
	}
	syncs := opts.SyncRegistry
	if syncs == nil {
		syncs = bgsync.Default
	}
	if tag := strings.TrimSpace(opts.ReviewTag); tag != "" {
		if err := syncs.Register(tag, bgsync.SyncReviews); err != nil && !errors.Is(err, bgsync.ErrDuplicateHandler) {
			return nil, fmt.Errorf("register sync tag %s: %w", tag, err)
		}
	}

	origin := *opts.Origin
	return &CachingWorker{
		site:        opts.Site,
		domain:      opts.Domain,
		origin:      &origin,
		prefix:      prefix,
		names:       NewStoreNames(prefix, version),
		offlinePage: offline,
		precache:    append([]string(nil), precache...),
		table:       opts.Table,
		maxBody:     opts.MaxBodySize,
		provider:    opts.Provider,
		fetcher:     opts.Fetcher,
		logger:      logger,
		metrics:     opts.Metrics,
		notifier:    notifier,
		clients:     clients,
		syncs:       syncs,
		state:       StateParsed,
	}, nil
}

// Site returns the configured site name.
func (w *CachingWorker) Site() string { return w.site }

// StoreNames returns the four store names for the current cache version.
func (w *CachingWorker) StoreNames() StoreNames { return w.names }

// Table returns the classification table in use.
func (w *CachingWorker) Table() strategy.Table { return w.table }

// Provider exposes the cache provider for diagnostics.
func (w *CachingWorker) Provider() cache.Provider { return w.provider }

// State 返回当前生命周期状态。
func (w *CachingWorker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaiting 报告安装成功后是否要求立即激活。
func (w *CachingWorker) SkipWaiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Claimed 报告激活后是否已接管全部客户端。
func (w *CachingWorker) Claimed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.claimed
}

func (w *CachingWorker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// OnInstall 并发拉取预缓存清单，全部成功后写入 static 仓库并标记 skip-waiting。
// 任何一项失败都不写入任何内容，worker 进入 redundant。
func (w *CachingWorker) OnInstall(ctx context.Context) (err error) {
	w.setState(StateInstalling)
	defer func() {
		w.metrics.observeLifecycle(w.site, "install", err)
		fields := logging.LifecycleFields(w.site, "install", w.State().String())
		if err != nil {
			w.logger.WithFields(fields).WithError(err).Error("install_failed")
			return
		}
		fields["precached"] = len(w.precache)
		w.logger.WithFields(fields).Info("install_completed")
	}()

	requests := make([]*Request, len(w.precache))
	for i, raw := range w.precache {
		req, resolveErr := w.resolve(raw)
		if resolveErr != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("precache %s: %w", raw, resolveErr)
		}
		requests[i] = req
	}

	responses := make([]*cache.Response, len(requests))
	writer := cache.NewWriter(nil, w.maxBody)
	group, groupCtx := errgroup.WithContext(ctx)
	for i, req := range requests {
		group.Go(func() error {
			resp, fetchErr := w.fetcher.Fetch(groupCtx, req)
			if fetchErr != nil {
				return fmt.Errorf("precache %s: %w", req.URL.Path, networkError(fetchErr))
			}
			if !writer.Cacheable(resp) {
				if !resp.OK() {
					return fmt.Errorf("precache %s: unexpected status %d", req.URL.Path, resp.Status)
				}
				return fmt.Errorf("precache %s: response not cacheable", req.URL.Path)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		w.setState(StateRedundant)
		return err
	}

	store, err := w.provider.Open(ctx, w.names.Static)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("open %s: %w", w.names.Static, err)
	}
	writer = cache.NewWriter(store, w.maxBody)
	for i, req := range requests {
		if _, err := writer.Put(ctx, req.Key(), responses[i]); err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("store precache %s: %w", req.URL.Path, err)
		}
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.skipWaiting = true
	w.mu.Unlock()
	return nil
}

// OnActivate 删除带本站前缀但不属于当前版本的仓库，然后接管客户端。
// 其他前缀的仓库保持不动。返回被删除的仓库名。
func (w *CachingWorker) OnActivate(ctx context.Context) (deleted []string, err error) {
	if w.State() == StateRedundant {
		return nil, ErrRedundant
	}
	w.setState(StateActivating)
	defer func() {
		w.metrics.observeLifecycle(w.site, "activate", err)
		fields := logging.LifecycleFields(w.site, "activate", w.State().String())
		fields["deleted"] = deleted
		if err != nil {
			w.logger.WithFields(fields).WithError(err).Error("activate_failed")
			return
		}
		w.logger.WithFields(fields).Info("activate_completed")
	}()

	names, err := w.provider.Keys(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return nil, fmt.Errorf("list cache stores: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, w.prefix) || w.names.contains(name) {
			continue
		}
		ok, delErr := w.provider.Delete(ctx, name)
		if delErr != nil {
			w.setState(StateInstalled)
			return deleted, fmt.Errorf("delete cache store %s: %w", name, delErr)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	w.metrics.observeStoresDeleted(w.site, len(deleted))

	w.mu.Lock()
	w.state = StateActivated
	w.claimed = true
	w.mu.Unlock()
	return deleted, nil
}

// Wait 等待所有后台刷新结束，或在 ctx 结束时返回其错误。
func (w *CachingWorker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve 把根相对路径解析为站点 origin 下的 GET 请求。
func (w *CachingWorker) resolve(raw string) (*Request, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: http.MethodGet,
		URL:    w.origin.ResolveReference(ref),
		Header: make(http.Header),
	}, nil
}
