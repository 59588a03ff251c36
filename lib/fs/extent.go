// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"github.com/greinafs/greinafs/lib/binstruct/binint"
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// Extent is a contiguous span of blocks, stored under an
// (id, DataTypeExtent, logicalStart) key. Start/Len are in block
// units.
type Extent struct {
	Start block.Addr
	Len   uint64
}

const extentRecordSize = 8 + 8

func (e Extent) startAddr() block.Addr { return e.Start }

func (e Extent) marshal() []byte {
	buf := make([]byte, extentRecordSize)
	sb, _ := binint.U64le(e.Start).MarshalBinary()
	copy(buf[0:8], sb)
	lb, _ := binint.U64le(e.Len).MarshalBinary()
	copy(buf[8:16], lb)
	return buf
}

func unmarshalExtent(buf []byte) (Extent, error) {
	if len(buf) != extentRecordSize {
		return Extent{}, ferrors.New(ferrors.Uninterpretable)
	}
	var start, length binint.U64le
	_, _ = start.UnmarshalBinary(buf[0:8])
	_, _ = length.UnmarshalBinary(buf[8:16])
	return Extent{Start: block.Addr(start), Len: uint64(length)}, nil
}

// MappedExtent is a logical-to-physical mapping resolved from a tree
// lookup: [Start, Start+Len) are logical byte offsets backed by
// Inner, a run of Inner.Len contiguous blocks starting at Inner.Start.
type MappedExtent struct {
	Start uint64
	Len   uint64
	Inner Extent
}

func (m MappedExtent) End() uint64 { return m.Start + m.Len }

// readExtent returns the mapped extent covering offset, if any.
func readExtent(s storage.Storage, sb *Superblock, id tree.NodeId, offset uint64) (MappedExtent, bool, error) {
	key := tree.ExtentKey(id, offset)
	k, data, ok, err := tree.GetLE(s, sb.RootAddr, key)
	if err != nil {
		return MappedExtent{}, false, err
	}
	if !ok || k.Id != id || k.Datatype != tree.DataTypeExtent {
		return MappedExtent{}, false, nil
	}
	inner, err := unmarshalExtent(data)
	if err != nil {
		return MappedExtent{}, false, err
	}
	start := k.Offset
	length := inner.Len * block.Size
	m := MappedExtent{Start: start, Len: length, Inner: inner}
	if offset < m.End() {
		return m, true, nil
	}
	return MappedExtent{}, false, nil
}

// ensureExtent returns the mapped extent covering offset, allocating
// fresh backing blocks (rounded to the containing block and the
// requested span) if none yet exists.
func ensureExtent(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId, offset, length uint64) (MappedExtent, error) {
	if m, ok, err := readExtent(s, sb, id, offset); err != nil {
		return MappedExtent{}, err
	} else if ok {
		return m, nil
	}

	start := (offset / block.Size) * block.Size
	end := offset + length
	span := end - start

	extLen := (span + block.Size - 1) / block.Size
	extStart, err := alloc.Allocate(extLen)
	if err != nil {
		return MappedExtent{}, err
	}
	ext := Extent{Start: extStart, Len: extLen}

	key := tree.ExtentKey(id, start)
	if err := tree.TryInsert(s, alloc, &sb.RootAddr, key, ext.marshal()); err != nil {
		return MappedExtent{}, err
	}

	return MappedExtent{Start: start, Len: extLen * block.Size, Inner: ext}, nil
}
