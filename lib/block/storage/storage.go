// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package storage is the block-addressed device abstraction (C1):
// whole-block reads and writes by address, plus a reported capacity.
package storage

import (
	"github.com/greinafs/greinafs/lib/block"
)

// Storage is the block device contract. Reads and writes are
// whole-block; partial I/O is never exposed to callers, and an
// out-of-range address is reported as ferrors.Storage(EIO).
type Storage interface {
	ReadAt(buf *block.Block, addr block.Addr) error
	WriteAt(buf *block.Block, addr block.Addr) error
	Capacity() uint64
}
