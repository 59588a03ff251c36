// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"github.com/greinafs/greinafs/lib/binstruct/binint"
	"github.com/greinafs/greinafs/lib/block"
)

const (
	// HeaderSize is the 6-byte in-block header: height, item_count,
	// data_offset, all u16 little-endian.
	HeaderSize = 6

	// BranchItemSize is key(17) + child BlockAddr(8).
	BranchItemSize = KeySize + 8

	// LeafItemSize is key(17) + data_offset(2) + data_size(2).
	LeafItemSize = KeySize + 2 + 2

	// NodeCapacity is the usable byte budget of a node, excluding the
	// header.
	NodeCapacity = block.Size - HeaderSize

	// DeficiencyThreshold: a non-root node whose used space is below
	// this is deficient and must be repaired by the engine.
	DeficiencyThreshold = 2048

	// MaxPayloadSize is the maximum size of a single leaf item's
	// value.
	MaxPayloadSize = 512
)

// Header is the fixed 6-byte prefix of every tree node block.
type Header struct {
	Height     uint16
	ItemCount  uint16
	DataOffset uint16
}

func readHeader(b *block.Block) Header {
	var h Header
	var height, count, off binint.U16le
	_, _ = height.UnmarshalBinary(b[0:2])
	_, _ = count.UnmarshalBinary(b[2:4])
	_, _ = off.UnmarshalBinary(b[4:6])
	h.Height = uint16(height)
	h.ItemCount = uint16(count)
	h.DataOffset = uint16(off)
	return h
}

func writeHeader(b *block.Block, h Header) {
	heightb, _ := binint.U16le(h.Height).MarshalBinary()
	copy(b[0:2], heightb)
	countb, _ := binint.U16le(h.ItemCount).MarshalBinary()
	copy(b[2:4], countb)
	offb, _ := binint.U16le(h.DataOffset).MarshalBinary()
	copy(b[4:6], offb)
}

// IsLeaf reports whether a node of this height is a leaf (height==0).
func (h Header) IsLeaf() bool {
	return h.Height == 0
}

// BranchItem is a branch node's routing entry: the lower-bound key of
// a child subtree, and the child's block address.
type BranchItem struct {
	Key   Key
	Child block.Addr
}

func (it BranchItem) marshalInto(buf []byte) {
	kb, _ := it.Key.MarshalBinary()
	copy(buf[0:KeySize], kb)
	cb, _ := binint.U64le(it.Child).MarshalBinary()
	copy(buf[KeySize:KeySize+8], cb)
}

func unmarshalBranchItem(buf []byte) BranchItem {
	var it BranchItem
	_, _ = it.Key.UnmarshalBinary(buf[0:KeySize])
	var child binint.U64le
	_, _ = child.UnmarshalBinary(buf[KeySize : KeySize+8])
	it.Child = block.Addr(child)
	return it
}

// LeafItem is a leaf node's directory entry for a value living in the
// data heap: its key, and the offset/size of its payload.
type LeafItem struct {
	Key        Key
	DataOffset uint16
	DataSize   uint16
}

func (it LeafItem) marshalInto(buf []byte) {
	kb, _ := it.Key.MarshalBinary()
	copy(buf[0:KeySize], kb)
	ob, _ := binint.U16le(it.DataOffset).MarshalBinary()
	copy(buf[KeySize:KeySize+2], ob)
	sb, _ := binint.U16le(it.DataSize).MarshalBinary()
	copy(buf[KeySize+2:KeySize+4], sb)
}

func unmarshalLeafItem(buf []byte) LeafItem {
	var it LeafItem
	_, _ = it.Key.UnmarshalBinary(buf[0:KeySize])
	var off, sz binint.U16le
	_, _ = off.UnmarshalBinary(buf[KeySize : KeySize+2])
	_, _ = sz.UnmarshalBinary(buf[KeySize+2 : KeySize+4])
	it.DataOffset = uint16(off)
	it.DataSize = uint16(sz)
	return it
}
