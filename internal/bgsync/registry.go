package bgsync

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Event describes one background sync delivery without importing worker internals.
type Event struct {
	Site   string
	Tag    string
	Logger logrus.FieldLogger
}

// Handler runs when connectivity returns for a registered tag.
type Handler func(ctx context.Context, event Event) error

// ErrDuplicateHandler indicates a tag already has a handler registered.
var ErrDuplicateHandler = errors.New("sync handler already registered")

// Registry maps sync tags to handlers. The zero value is ready to use.
type Registry struct {
	handlers sync.Map
}

// Default is the process-wide registry populated by init-time registrations.
var Default = &Registry{}

// Register stores a handler for the given tag.
func (r *Registry) Register(tag string, handler Handler) error {
	key := normalizeTag(tag)
	if key == "" {
		return errors.New("sync tag required")
	}
	if handler == nil {
		return errors.New("sync handler required")
	}
	if _, loaded := r.handlers.LoadOrStore(key, handler); loaded {
		return ErrDuplicateHandler
	}
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(tag string, handler Handler) {
	if err := r.Register(tag, handler); err != nil {
		panic(err)
	}
}

// Fetch retrieves the handler associated with a tag.
func (r *Registry) Fetch(tag string) (Handler, bool) {
	key := normalizeTag(tag)
	if key == "" {
		return nil, false
	}
	if value, ok := r.handlers.Load(key); ok {
		if handler, ok := value.(Handler); ok {
			return handler, true
		}
	}
	return nil, false
}

// Status returns registration status for a tag.
func (r *Registry) Status(tag string) string {
	if _, ok := r.Fetch(tag); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of tags.
func (r *Registry) Snapshot(tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		if normalized := normalizeTag(tag); normalized != "" {
			out[normalized] = r.Status(normalized)
		}
	}
	return out
}

// Register stores a handler in the Default registry.
func Register(tag string, handler Handler) error {
	return Default.Register(tag, handler)
}

// MustRegister panics when the Default registry rejects the handler.
func MustRegister(tag string, handler Handler) {
	Default.MustRegister(tag, handler)
}

// Fetch looks a tag up in the Default registry.
func Fetch(tag string) (Handler, bool) {
	return Default.Fetch(tag)
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
