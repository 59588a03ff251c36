// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// lruCache is a small generic wrapper around hashicorp/golang-lru's
// ARC cache, adapted from the corpus's own mount-command LRU helper.
type lruCache[K comparable, V any] struct {
	initOnce sync.Once
	inner    *lru.ARCCache
	size     int
}

func newLRUCache[K comparable, V any](size int) *lruCache[K, V] {
	return &lruCache[K, V]{size: size}
}

func (c *lruCache[K, V]) init() {
	c.initOnce.Do(func() {
		c.inner, _ = lru.NewARC(c.size)
	})
}

func (c *lruCache[K, V]) Add(key K, value V) {
	c.init()
	c.inner.Add(key, value)
}

func (c *lruCache[K, V]) Get(key K) (value V, ok bool) {
	c.init()
	raw, ok := c.inner.Get(key)
	if ok {
		value = raw.(V)
	}
	return value, ok
}

func (c *lruCache[K, V]) Remove(key K) {
	c.init()
	c.inner.Remove(key)
}

func (c *lruCache[K, V]) Purge() {
	c.init()
	c.inner.Purge()
}
