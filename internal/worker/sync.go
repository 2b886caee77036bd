package worker

import (
	"context"
	"fmt"

	"github.com/humble-halal/offline-hub/internal/bgsync"
	"github.com/humble-halal/offline-hub/internal/logging"
)

// OnSync 把后台同步事件分发给 tag 对应的处理器；未注册的 tag 记录日志后忽略。
func (w *CachingWorker) OnSync(ctx context.Context, tag string) error {
	fields := logging.LifecycleFields(w.site, "sync", w.State().String())
	fields["tag"] = tag

	handler, ok := w.syncs.Fetch(tag)
	if !ok {
		w.logger.WithFields(fields).Info("sync_tag_ignored")
		return nil
	}
	err := handler(ctx, bgsync.Event{Site: w.site, Tag: tag, Logger: w.logger.WithFields(fields)})
	w.metrics.observeLifecycle(w.site, "sync", err)
	if err != nil {
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	return nil
}

// SyncStatus 返回 tag 的注册状态，供诊断接口展示。
func (w *CachingWorker) SyncStatus(tags ...string) map[string]string {
	return w.syncs.Snapshot(tags)
}
