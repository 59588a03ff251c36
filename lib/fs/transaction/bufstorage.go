// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transaction buffers a batch of filesystem mutations in
// memory, making them visible to reads within the same transaction,
// and flushes them to the underlying storage and allocator only on
// Commit.
package transaction

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/containers"
)

// bufStorage is a write-back decorator: reads first consult the dirty
// map, falling through to inner on a miss; writes only ever touch the
// dirty map.
type bufStorage struct {
	inner storage.Storage
	dirty containers.SortedMap[containers.NativeOrdered[block.Addr], block.Block]
}

func newBufStorage(inner storage.Storage) *bufStorage {
	return &bufStorage{inner: inner}
}

func (b *bufStorage) ReadAt(buf *block.Block, addr block.Addr) error {
	if cached, ok := b.dirty.Load(containers.NativeOrdered[block.Addr]{Val: addr}); ok {
		*buf = cached
		return nil
	}
	return b.inner.ReadAt(buf, addr)
}

func (b *bufStorage) WriteAt(buf *block.Block, addr block.Addr) error {
	b.dirty.Store(containers.NativeOrdered[block.Addr]{Val: addr}, *buf)
	return nil
}

func (b *bufStorage) Capacity() uint64 {
	return b.inner.Capacity()
}

// sync flushes every buffered block to inner in ascending address
// order, so the superblock (block 0) is written first. It stops at the
// first failed write, leaving the blocks after it unwritten.
func (b *bufStorage) sync() error {
	var err error
	b.dirty.Range(func(addr containers.NativeOrdered[block.Addr], blk block.Block) bool {
		if werr := b.inner.WriteAt(&blk, addr.Val); werr != nil {
			err = werr
			return false
		}
		return true
	})
	return err
}
