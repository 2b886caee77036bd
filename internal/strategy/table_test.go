package strategy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestDefaultTableClassification(t *testing.T) {
	t.Parallel()

	table := DefaultTable(nil, nil)
	tests := []struct {
		name      string
		url       string
		strategy  Strategy
		store     StoreKind
		isDefault bool
	}{
		{"api path", "https://humblehalal.sg/api/businesses", NetworkFirst, StoreDynamic, false},
		{"backend host", "https://xyz.supabase.co/rest/v1/businesses", NetworkFirst, StoreDynamic, false},
		{"backend image beats image rule", "https://xyz.supabase.co/storage/v1/object/public/logo.png", NetworkFirst, StoreDynamic, false},
		{"asset svg", "https://humblehalal.sg/assets/logo.svg", CacheFirst, StoreStatic, false},
		{"icon", "https://humblehalal.sg/icons/icon-192x192.png", CacheFirst, StoreStatic, false},
		{"badge", "https://humblehalal.sg/badges/muis.webp", CacheFirst, StoreStatic, false},
		{"unsplash", "https://images.unsplash.com/photo-123.jpg", StaleWhileRevalidate, StoreImages, false},
		{"unsplash without extension", "https://images.unsplash.com/photo-123?w=800", StaleWhileRevalidate, StoreImages, false},
		{"image extension", "https://humblehalal.sg/uploads/cafe.JPEG", StaleWhileRevalidate, StoreImages, false},
		{"script", "https://humblehalal.sg/main.4f2a.js", CacheFirst, StoreStatic, false},
		{"stylesheet", "https://humblehalal.sg/index.css", CacheFirst, StoreStatic, false},
		{"font", "https://fonts.example.com/inter.woff2", CacheFirst, StoreStatic, false},
		{"json is not js", "https://humblehalal.sg/data.json", NetworkFirst, StoreDynamic, true},
		{"page", "https://humblehalal.sg/business/halal-cafe", NetworkFirst, StoreDynamic, true},
		{"root", "https://humblehalal.sg/", NetworkFirst, StoreDynamic, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := table.Classify(mustURL(t, tt.url))
			assert.Equal(t, tt.strategy, got.Strategy, "strategy for %s", tt.url)
			assert.Equal(t, tt.store, got.Store, "store for %s", tt.url)
			assert.Equal(t, tt.isDefault, got.Default(), "default for %s", tt.url)
		})
	}
}

func TestDefaultTableCustomHosts(t *testing.T) {
	table := DefaultTable([]string{"backend.internal"}, []string{"cdn.halal-img.sg"})

	got := table.Classify(mustURL(t, "https://backend.internal/v1/reviews"))
	assert.Equal(t, NetworkFirst, got.Strategy)

	got = table.Classify(mustURL(t, "https://cdn.halal-img.sg/p/1"))
	assert.Equal(t, StaleWhileRevalidate, got.Strategy)

	// Defaults are replaced, not merged.
	got = table.Classify(mustURL(t, "https://xyz.supabase.co/rest/v1/businesses"))
	assert.True(t, got.Default())
}

func TestTableIsImmutable(t *testing.T) {
	rules := []Rule{{Strategy: CacheFirst, Store: StoreStatic, Kind: PathPrefix, Pattern: "/static/"}}
	table := NewTable(rules...)
	rules[0].Pattern = "/other/"

	got := table.Classify(mustURL(t, "https://x.local/static/app.js"))
	assert.Equal(t, CacheFirst, got.Strategy)

	copied := table.Rules()
	copied[0].Strategy = StaleWhileRevalidate
	assert.Equal(t, CacheFirst, table.Rules()[0].Strategy)
}

func TestZeroTableFallsBack(t *testing.T) {
	var table Table
	got := table.Classify(mustURL(t, "https://x.local/assets/a.css"))
	assert.Equal(t, NetworkFirst, got.Strategy)
	assert.Equal(t, StoreDynamic, got.Store)
	assert.True(t, got.Default())
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "network-first", NetworkFirst.String())
	assert.Equal(t, "cache-first", CacheFirst.String())
	assert.Equal(t, "stale-while-revalidate", StaleWhileRevalidate.String())
	assert.Equal(t, "images", StoreImages.String())
	assert.Len(t, Profiles(), 3)
}
