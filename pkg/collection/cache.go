package collection

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// accessorCache memoizes one accessor kind, keyed by the exact argument
// tuple, with a bounded entry count and least-recently-used eviction.
// Entries are never invalidated: the container is immutable once published.
type accessorCache[V any] struct {
	lru *lru.Cache[string, V]
}

func newAccessorCache[V any](size int) *accessorCache[V] {
	c, err := lru.New[string, V](size)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &accessorCache[V]{lru: c}
}

func (c *accessorCache[V]) get(key string, fill func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err := fill()
	if err != nil {
		var zero V
		return zero, err
	}

	c.lru.Add(key, v)
	return v, nil
}

func (c *accessorCache[V]) len() int {
	return c.lru.Len()
}
