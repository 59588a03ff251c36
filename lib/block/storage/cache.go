// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"github.com/greinafs/greinafs/lib/block"
)

// defaultCacheSize is the number of blocks a CachingStorage keeps hot.
const defaultCacheSize = 1024

// CachingStorage decorates a Storage with a read-through LRU of
// recently-read blocks. Writes always go through to the inner storage
// (and update the cache), so a write is never served stale by a
// subsequent read.
type CachingStorage struct {
	inner Storage
	cache *lruCache[block.Addr, block.Block]
}

var _ Storage = (*CachingStorage)(nil)

// NewCachingStorage wraps inner with a read cache of the default size.
func NewCachingStorage(inner Storage) *CachingStorage {
	return &CachingStorage{
		inner: inner,
		cache: newLRUCache[block.Addr, block.Block](defaultCacheSize),
	}
}

func (s *CachingStorage) Capacity() uint64 {
	return s.inner.Capacity()
}

func (s *CachingStorage) ReadAt(buf *block.Block, addr block.Addr) error {
	if b, ok := s.cache.Get(addr); ok {
		*buf = b
		return nil
	}
	if err := s.inner.ReadAt(buf, addr); err != nil {
		return err
	}
	s.cache.Add(addr, *buf)
	return nil
}

func (s *CachingStorage) WriteAt(buf *block.Block, addr block.Addr) error {
	if err := s.inner.WriteAt(buf, addr); err != nil {
		return err
	}
	s.cache.Add(addr, *buf)
	return nil
}
