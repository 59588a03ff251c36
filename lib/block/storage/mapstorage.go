// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"syscall"

	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// MapStorage is an in-memory Storage fixture for tests: a sparse map
// of block address to block contents, with a fixed declared capacity.
type MapStorage struct {
	capacity uint64
	blocks   map[block.Addr]block.Block
}

var _ Storage = (*MapStorage)(nil)

func NewMapStorage(capacity uint64) *MapStorage {
	return &MapStorage{
		capacity: capacity,
		blocks:   make(map[block.Addr]block.Block),
	}
}

func (s *MapStorage) ReadAt(buf *block.Block, addr block.Addr) error {
	if uint64(addr) >= s.capacity {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	// a block never written reads as zeroes
	*buf = s.blocks[addr]
	return nil
}

func (s *MapStorage) WriteAt(buf *block.Block, addr block.Addr) error {
	if uint64(addr) >= s.capacity {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	s.blocks[addr] = *buf
	return nil
}

func (s *MapStorage) Capacity() uint64 {
	return s.capacity
}
