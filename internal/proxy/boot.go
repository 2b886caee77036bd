package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humble-halal/offline-hub/internal/bgsync"
	"github.com/humble-halal/offline-hub/internal/cache"
	"github.com/humble-halal/offline-hub/internal/config"
	"github.com/humble-halal/offline-hub/internal/logging"
	"github.com/humble-halal/offline-hub/internal/server"
	"github.com/humble-halal/offline-hub/internal/worker"
)

// BootOptions 汇总启动所有站点 worker 所需的共享依赖。
type BootOptions struct {
	Config   *config.Config
	Registry *server.SiteRegistry
	Provider cache.Provider
	Logger   *logrus.Logger
	Metrics  *worker.Metrics
	Notifier worker.Notifier
	Syncs    *bgsync.Registry
	// ClientFor 允许测试替换站点出站客户端，缺省为 server.NewSiteClient。
	ClientFor func(route server.SiteRoute) *http.Client
}

// Boot 为每个站点构建 CachingWorker 并依次执行 install、activate，
// 任何站点失败都会中止启动。
func Boot(ctx context.Context, opts BootOptions) (*Forwarder, error) {
	if opts.Config == nil || opts.Registry == nil {
		return nil, errors.New("config and site registry are required")
	}
	if opts.Provider == nil {
		return nil, errors.New("cache provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clientFor := opts.ClientFor
	if clientFor == nil {
		clientFor = func(route server.SiteRoute) *http.Client {
			return server.NewSiteClient(opts.Config, route.ProxyURL)
		}
	}

	forwarder := NewForwarder(NewHandler(logger), logger)
	installTimeout := opts.Config.Global.InstallTimeout.DurationValue()

	for _, route := range opts.Registry.List() {
		site := route.Config
		w, err := worker.New(worker.Options{
			Site:         site.Name,
			Domain:       site.Domain,
			Origin:       route.UpstreamURL,
			CachePrefix:  site.CachePrefix,
			CacheVersion: site.CacheVersion,
			OfflinePage:  site.OfflinePage,
			Precache:     site.Precache,
			Table:        route.Table,
			MaxBodySize:  opts.Config.Global.MaxBodySize,
			Provider:     opts.Provider,
			Fetcher:      worker.NewHTTPFetcher(clientFor(route)),
			Logger:       logger,
			Metrics:      opts.Metrics,
			Notifier:     opts.Notifier,
			SyncRegistry: opts.Syncs,
			ReviewTag:    site.SyncTag,
		})
		if err != nil {
			return nil, fmt.Errorf("build worker for site %s: %w", site.Name, err)
		}

		if err := installWorker(ctx, w, installTimeout); err != nil {
			logging.SiteLogger(logger, site.Name).WithError(err).Error("site_install_failed")
			return nil, fmt.Errorf("install site %s: %w", site.Name, err)
		}
		deleted, err := w.OnActivate(ctx)
		if err != nil {
			return nil, fmt.Errorf("activate site %s: %w", site.Name, err)
		}

		fields := logging.LifecycleFields(site.Name, "boot", w.State().String())
		fields["stores"] = w.StoreNames().All()
		fields["deleted"] = deleted
		logger.WithFields(fields).Info("site_worker_ready")

		if err := forwarder.Register(WorkerRegistration{Site: site.Name, Worker: w}); err != nil {
			return nil, err
		}
	}

	return forwarder, nil
}

func installWorker(ctx context.Context, w *worker.CachingWorker, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return w.OnInstall(ctx)
}

// Shutdown 等待所有站点的后台刷新结束。
func (f *Forwarder) Shutdown(ctx context.Context) error {
	var errs []error
	for _, w := range f.Workers() {
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("site %s: %w", w.Site(), err))
		}
	}
	return errors.Join(errs...)
}
