package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryProvider 构建进程内 Provider，每个仓库底层是一个永不过期的 go-cache 实例。
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		stores: make(map[string]*memoryStore),
	}
}

// MemoryProvider 保存仓库创建顺序，使 Match 的遍历顺序稳定。
type MemoryProvider struct {
	mu     sync.RWMutex
	order  []string
	stores map[string]*memoryStore
}

type memoryStore struct {
	name    string
	entries *gocache.Cache
}

func (p *MemoryProvider) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateStoreName(name); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if store, ok := p.stores[name]; ok {
		return store, nil
	}
	// cleanupInterval 为 0 时 go-cache 不会启动 janitor goroutine。
	store := &memoryStore{
		name:    name,
		entries: gocache.New(gocache.NoExpiration, 0),
	}
	p.stores[name] = store
	p.order = append(p.order, name)
	return store, nil
}

func (p *MemoryProvider) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stores[name]
	return ok, nil
}

func (p *MemoryProvider) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	store, ok := p.stores[name]
	if !ok {
		return false, nil
	}
	store.entries.Flush()
	delete(p.stores, name)
	for i, existing := range p.order {
		if existing == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (p *MemoryProvider) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...), nil
}

func (p *MemoryProvider) Match(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	stores := make([]*memoryStore, 0, len(p.order))
	for _, name := range p.order {
		stores = append(stores, p.stores[name])
	}
	p.mu.RUnlock()

	for _, store := range stores {
		resp, err := store.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Match(ctx context.Context, key string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := s.entries.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	resp, ok := value.(*Response)
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (s *memoryStore) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now().UTC()
	}
	s.entries.Set(key, stored, gocache.NoExpiration)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := s.entries.Get(key); !ok {
		return false, nil
	}
	s.entries.Delete(key)
	return true, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items := s.entries.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func validateStoreName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}
