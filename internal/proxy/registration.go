package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/humble-halal/offline-hub/internal/worker"
)

// WorkerRegistration 描述一个站点与其 CachingWorker 的绑定，注册前需通过 Validate。
type WorkerRegistration struct {
	Site   string
	Worker *worker.CachingWorker
}

// ErrWorkerExists indicates a worker has already been registered for the site.
var ErrWorkerExists = errors.New("site worker already registered")

// Validate ensures both site and worker are present before registration.
func (r WorkerRegistration) Validate() error {
	if strings.TrimSpace(r.Site) == "" {
		return errors.New("site name required")
	}
	if r.Worker == nil {
		return errors.New("site worker required")
	}
	return nil
}

// Register 将 worker 绑定到站点名；同名站点重复注册返回 ErrWorkerExists。
func (f *Forwarder) Register(reg WorkerRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	normalized := normalizeSiteKey(reg.Site)
	if _, loaded := f.workers.LoadOrStore(normalized, reg.Worker); loaded {
		return fmt.Errorf("%w: %s", ErrWorkerExists, normalized)
	}
	return nil
}

// MustRegister panics when registration fails.
func (f *Forwarder) MustRegister(reg WorkerRegistration) {
	if err := f.Register(reg); err != nil {
		panic(err)
	}
}
