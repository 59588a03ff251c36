// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package transaction

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
)

// bufAllocator stages allocator mutations against a snapshot clone of
// the live bitmap, so a discarded transaction never disturbs the
// allocator other transactions see.
type bufAllocator struct {
	staged *allocator.Bitmap
}

func newBufAllocator(live *allocator.Bitmap) *bufAllocator {
	return &bufAllocator{staged: live.Clone()}
}

func (a *bufAllocator) Allocate(count uint64) (block.Addr, error) {
	return a.staged.Allocate(count)
}

func (a *bufAllocator) Deallocate(start block.Addr, count uint64) error {
	return a.staged.Deallocate(start, count)
}

func (a *bufAllocator) Available() uint64 {
	return a.staged.Available()
}

// sync persists the staged bitmap's bytes to storage starting at
// alloc_start, and swaps it into live, making the transaction's
// allocations and deallocations visible to the rest of the
// filesystem.
func (a *bufAllocator) sync(s *bufStorage, live *allocator.Bitmap, allocStart block.Addr) error {
	data := a.staged.Bytes()
	for i := 0; i*block.Size < len(data); i++ {
		var blk block.Block
		end := (i + 1) * block.Size
		if end > len(data) {
			end = len(data)
		}
		copy(blk[:], data[i*block.Size:end])
		addr := block.Addr(uint64(allocStart) + uint64(i))
		if err := s.WriteAt(&blk, addr); err != nil {
			return err
		}
	}
	*live = *a.staged
	return nil
}
