package cache

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerFactory struct {
	name string
	make func(t *testing.T) Provider
}

func providerFactories() []providerFactory {
	return []providerFactory{
		{name: "memory", make: func(t *testing.T) Provider { return NewMemoryProvider() }},
		{name: "disk", make: func(t *testing.T) Provider { return newTestStore(t) }},
		{name: "sqlite", make: func(t *testing.T) Provider {
			p, err := NewSQLiteProvider(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close() })
			return p
		}},
	}
}

func TestProviderContract(t *testing.T) {
	for _, factory := range providerFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			p := factory.make(t)

			names, err := p.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			first, err := p.Open(ctx, "halal-static-v1")
			require.NoError(t, err)
			second, err := p.Open(ctx, "halal-images-v1")
			require.NoError(t, err)
			assert.Equal(t, "halal-static-v1", first.Name())

			// Open is idempotent and keeps creation order.
			_, err = p.Open(ctx, "halal-static-v1")
			require.NoError(t, err)
			names, err = p.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"halal-static-v1", "halal-images-v1"}, names)

			key := "https://images.unsplash.com/photo-1.jpg"
			require.NoError(t, second.Put(ctx, key, &Response{Status: http.StatusOK, Body: []byte("old")}))
			require.NoError(t, second.Put(ctx, key, &Response{Status: http.StatusOK, Body: []byte("new")}))

			got, err := p.Match(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "new", string(got.Body), "last writer wins")

			keys, err := second.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{key}, keys)

			removed, err := second.Delete(ctx, key)
			require.NoError(t, err)
			assert.True(t, removed)
			_, err = second.Match(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			deleted, err := p.Delete(ctx, "halal-images-v1")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = p.Delete(ctx, "halal-images-v1")
			require.NoError(t, err)
			assert.False(t, deleted)

			exists, err := p.Has(ctx, "halal-static-v1")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestProviderMatchPrefersFirstCreatedStore(t *testing.T) {
	for _, factory := range providerFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			p := factory.make(t)
			key := "https://halal.local/offline.html"

			older, err := p.Open(ctx, "halal-static-v1")
			require.NoError(t, err)
			newer, err := p.Open(ctx, "halal-dynamic-v1")
			require.NoError(t, err)

			require.NoError(t, newer.Put(ctx, key, &Response{Status: http.StatusOK, Body: []byte("dynamic")}))
			got, err := p.Match(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "dynamic", string(got.Body))

			require.NoError(t, older.Put(ctx, key, &Response{Status: http.StatusOK, Body: []byte("static")}))
			got, err = p.Match(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "static", string(got.Body))
		})
	}
}

func TestProviderConcurrentPuts(t *testing.T) {
	for _, factory := range providerFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			p := factory.make(t)
			store, err := p.Open(ctx, "halal-dynamic-v1")
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = store.Put(ctx, "https://halal.local/api/businesses", &Response{
						Status: http.StatusOK,
						Body:   []byte("payload"),
					})
				}()
			}
			wg.Wait()

			got, err := store.Match(ctx, "https://halal.local/api/businesses")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(got.Body))
		})
	}
}

func TestMatchReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	store, err := p.Open(ctx, "halal-v1")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", &Response{Status: http.StatusOK, Body: []byte("abc")}))

	got, err := store.Match(ctx, "k")
	require.NoError(t, err)
	got.Body[0] = 'z'

	again, err := store.Match(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Body))
}

func TestOpenProviderDrivers(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{DriverDisk, DriverSQLite, DriverMemory, ""} {
		p, closer, err := OpenProvider(ctx, driver, t.TempDir())
		require.NoError(t, err, "driver %q", driver)
		require.NotNil(t, p)
		require.NoError(t, closer())
	}
	_, _, err := OpenProvider(ctx, "redis", t.TempDir())
	assert.Error(t, err)
}

func TestSQLiteDeleteCascadesAcrossReconnects(t *testing.T) {
	ctx := context.Background()
	p, err := NewSQLiteProvider(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	// 不保留空闲连接，每条语句都在新连接上执行。
	p.db.SetMaxIdleConns(0)

	var enabled int
	require.NoError(t, p.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)

	store, err := p.Open(ctx, "halal-dynamic-v1")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "https://halal.local/api/reviews", &Response{Status: http.StatusOK, Body: []byte("old")}))

	deleted, err := p.Delete(ctx, "halal-dynamic-v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	reopened, err := p.Open(ctx, "halal-dynamic-v1")
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
