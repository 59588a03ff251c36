// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package allocator

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// Bitmap is a next-fit-with-wrap bitmap allocator: a bit array of
// count bits (bit i set iff block i is allocated), an available
// counter, and a cursor remembering where the last allocation ended.
//
// On disk the bits are packed LSB-first within each byte, and bytes
// are grouped into little-endian u64 words for the persisted layout
// described in the on-disk format; that word grouping is exactly a
// little-endian byte array, so Bitmap stores and serializes bits
// byte-at-a-time.
type Bitmap struct {
	bits       []byte
	count      uint64
	available  uint64
	lastCursor uint64
}

var _ Allocator = (*Bitmap)(nil)

// NewBitmap creates an all-free bitmap of count bits.
func NewBitmap(count uint64) *Bitmap {
	return &Bitmap{
		bits:      make([]byte, (count+7)/8),
		count:     count,
		available: count,
	}
}

func (b *Bitmap) bit(i uint64) bool {
	return b.bits[i/8]&(1<<(i%8)) != 0
}

func (b *Bitmap) setBit(i uint64) {
	b.bits[i/8] |= 1 << (i % 8)
}

func (b *Bitmap) clearBit(i uint64) {
	b.bits[i/8] &^= 1 << (i % 8)
}

// ByteLen is the number of bytes the bitmap serializes to:
// ceil(block_count/8).
func (b *Bitmap) ByteLen() uint64 {
	return (b.count + 7) / 8
}

// Bytes serializes the bitmap to its packed, LSB-first on-disk form.
func (b *Bitmap) Bytes() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// BitmapFromBytes reconstructs a Bitmap of count bits from its
// packed on-disk form, recomputing the available counter by counting
// zero bits.
func BitmapFromBytes(count uint64, data []byte) *Bitmap {
	b := NewBitmap(count)
	copy(b.bits, data)
	var used uint64
	for i := uint64(0); i < count; i++ {
		if b.bit(i) {
			used++
		}
	}
	b.available = count - used
	return b
}

// findFree scans for the first run of count consecutive zero bits
// starting at lastCursor, wrapping once to 0.
func (b *Bitmap) findFree(count uint64) (uint64, bool) {
	if b.count == 0 {
		return 0, false
	}
	start := b.lastCursor % b.count
	tried := uint64(0)
	pos := start
	for tried < b.count {
		if b.bit(pos) {
			pos = (pos + 1) % b.count
			tried++
			continue
		}
		// pos is free; see if a run of `count` starting here fits
		// without wrapping past the unvisited region.
		if pos+count > b.count {
			// run would run off the end of the device; this start
			// position cannot work, advance past it.
			pos = (pos + 1) % b.count
			tried++
			continue
		}
		runOK := true
		for j := uint64(0); j < count; j++ {
			if b.bit(pos + j) {
				runOK = false
				break
			}
		}
		if runOK {
			return pos, true
		}
		pos = (pos + 1) % b.count
		tried++
	}
	return 0, false
}

func (b *Bitmap) Allocate(count uint64) (block.Addr, error) {
	if count == 0 {
		panic("allocator: Allocate(0)")
	}
	start, ok := b.findFree(count)
	if !ok {
		return 0, ferrors.New(ferrors.NoSpace)
	}
	for i := uint64(0); i < count; i++ {
		b.setBit(start + i)
	}
	b.available -= count
	b.lastCursor = (start + count) % b.count
	return block.Addr(start), nil
}

func (b *Bitmap) Deallocate(start block.Addr, count uint64) error {
	s := uint64(start)
	if s+count > b.count {
		return ferrors.New(ferrors.AddrOutOfBounds)
	}
	for i := uint64(0); i < count; i++ {
		if !b.bit(s + i) {
			return ferrors.New(ferrors.NotAllocated)
		}
	}
	for i := uint64(0); i < count; i++ {
		b.clearBit(s + i)
	}
	b.available += count
	return nil
}

func (b *Bitmap) Available() uint64 {
	return b.available
}

// Clone returns a deep, independent copy of the bitmap — used by the
// transaction layer to take a clone-on-entry snapshot for BufAllocator.
func (b *Bitmap) Clone() *Bitmap {
	clone := &Bitmap{
		bits:       make([]byte, len(b.bits)),
		count:      b.count,
		available:  b.available,
		lastCursor: b.lastCursor,
	}
	copy(clone.bits, b.bits)
	return clone
}
