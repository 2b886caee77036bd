package cache

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestWriterCacheable(t *testing.T) {
	w := NewWriter(newMemoryStoreForTest(t), 8)
	cases := []struct {
		name string
		resp *Response
		want bool
	}{
		{"ok", &Response{Status: http.StatusOK, Body: []byte("small")}, true},
		{"no content", &Response{Status: http.StatusNoContent}, true},
		{"partial", &Response{Status: http.StatusPartialContent}, false},
		{"not found", &Response{Status: http.StatusNotFound}, false},
		{"server error", &Response{Status: http.StatusBadGateway}, false},
		{"too large", &Response{Status: http.StatusOK, Body: []byte("way too large")}, false},
		{"public", &Response{Status: http.StatusOK, Header: http.Header{"Cache-Control": []string{"public, max-age=60"}}}, true},
		{"private", &Response{Status: http.StatusOK, Header: http.Header{"Cache-Control": []string{"max-age=60, Private"}}}, false},
		{"no-store", &Response{Status: http.StatusOK, Header: http.Header{"Cache-Control": []string{"no-store"}}}, false},
		{"private with field", &Response{Status: http.StatusOK, Header: http.Header{"Cache-Control": []string{`private="Set-Cookie"`}}}, false},
		{"set-cookie", &Response{Status: http.StatusOK, Header: http.Header{"Set-Cookie": []string{"session=abc"}}}, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := w.Cacheable(tc.resp); got != tc.want {
				t.Fatalf("Cacheable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWriterPutStampsTime(t *testing.T) {
	store := newMemoryStoreForTest(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w := NewWriter(store, 0)
	w.now = func() time.Time { return fixed }

	stored, err := w.Put(context.Background(), "k", &Response{Status: http.StatusOK, Body: []byte("v")})
	if err != nil || !stored {
		t.Fatalf("expected write, got %v %v", stored, err)
	}
	got, err := store.Match(context.Background(), "k")
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if !got.StoredAt.Equal(fixed) {
		t.Fatalf("stored_at mismatch: %v", got.StoredAt)
	}

	stored, err = w.Put(context.Background(), "k", &Response{Status: http.StatusInternalServerError})
	if err != nil || stored {
		t.Fatalf("5xx should be skipped, got %v %v", stored, err)
	}
}

func TestWriterWithoutStore(t *testing.T) {
	w := NewWriter(nil, 0)
	if w.Enabled() {
		t.Fatalf("writer without store should be disabled")
	}
	if _, err := w.Put(context.Background(), "k", &Response{Status: http.StatusOK}); err != ErrStoreUnavailable {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// newMemoryStoreForTest opens a throwaway in-memory store.
func newMemoryStoreForTest(t *testing.T) Store {
	t.Helper()
	store, err := NewMemoryProvider().Open(context.Background(), "test")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	return store
}
