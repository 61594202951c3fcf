// Package storage provides durable per-key string stores. Each entity kind is
// kept as one serialized value under a fixed key, the same way a browser
// profile keeps it in local storage.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyKey is returned when an operation is called with a blank key.
var ErrEmptyKey = errors.New("storage key is required")

// Store is a durable key/value store of strings.
type Store interface {
	// Get returns the stored value; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// UpdateFunc receives the current value (ok=false when absent) and returns the
// value to write.
type UpdateFunc func(old string, ok bool) (string, error)

// Updater is an optional capability for backends that can run a
// read-modify-write on one key atomically, including across processes.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Update runs fn against key. Backends implementing Updater do it atomically;
// for the rest it is a plain Get followed by Set and callers must serialize.
func Update(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, fn)
	}
	old, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next)
}

// Namespaced prefixes every key, so several profiles can share one backend.
type Namespaced struct {
	inner  Store
	prefix string
}

// NewNamespaced wraps inner. An empty prefix returns inner unchanged.
func NewNamespaced(inner Store, prefix string) Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return inner
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Namespaced{inner: inner, prefix: prefix}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return n.inner.Delete(ctx, n.prefix+key)
}

// Update forwards to the wrapped store so atomicity is preserved.
func (n *Namespaced) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return Update(ctx, n.inner, n.prefix+key, fn)
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
