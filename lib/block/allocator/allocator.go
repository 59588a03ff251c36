// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package allocator is the block allocator (C2): a bitmap of free and
// used blocks supporting contiguous-run allocation with next-fit
// scanning and wraparound.
package allocator

import (
	"github.com/greinafs/greinafs/lib/block"
)

// Allocator tracks free/used blocks and hands out contiguous runs.
type Allocator interface {
	// Allocate finds and marks allocated a run of count consecutive
	// free blocks, returning its starting address. count must be > 0.
	Allocate(count uint64) (block.Addr, error)
	// Deallocate marks [start, start+count) free again. Every block
	// in the range must currently be allocated.
	Deallocate(start block.Addr, count uint64) error
	// Available reports the number of currently-free blocks.
	Available() uint64
}
