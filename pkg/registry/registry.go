// Package registry provides a small generic name registry.
package registry

import (
	"fmt"
	"sort"
)

type Registry[T any] struct {
	entries map[string]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

func (r *Registry[T]) Register(id string, entry T) error {
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("already registered: %s", id)
	}
	r.entries[id] = entry
	return nil
}

func (r *Registry[T]) MustRegister(id string, entry T) {
	if err := r.Register(id, entry); err != nil {
		panic(err)
	}
}

func (r *Registry[T]) Has(id string) bool {
	_, ok := r.entries[id]
	return ok
}

func (r *Registry[T]) Get(id string) (T, error) {
	entry, ok := r.entries[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("not registered: %s", id)
	}
	return entry, nil
}

func (r *Registry[T]) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
