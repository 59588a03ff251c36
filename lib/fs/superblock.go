// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fs implements the filesystem object layer (C7) and the
// on-disk superblock (C5) that locates it: inodes, directory entries,
// extents, files, and symlinks, all stored as items of the tree in
// lib/tree.
package fs

import (
	"github.com/greinafs/greinafs/lib/binstruct/binint"
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// Signature is the fixed 8-byte ASCII literal every superblock must
// carry.
const Signature = "greinafs"

// SuperblockAddr is the fixed block address of the superblock.
const SuperblockAddr block.Addr = 0

// Superblock is the on-disk header locating the allocator bitmap and
// the current tree root.
type Superblock struct {
	BlockCount      uint64
	NextNodeId      tree.NodeId
	BlockAllocStart block.Addr
	RootAddr        block.Addr
}

// bitmapBlocks returns how many blocks the allocator bitmap for
// blockCount blocks occupies.
func bitmapBlocks(blockCount uint64) uint64 {
	bits := blockCount
	bytes := (bits + 7) / 8
	return (bytes + block.Size - 1) / block.Size
}

// NewSuperblock derives a fresh superblock for a device of blockCount
// blocks: the allocator bitmap starts at block 1, and root_addr is the
// first block after the bitmap.
func NewSuperblock(blockCount uint64) Superblock {
	allocStart := block.Addr(1)
	rootAddr := block.Addr(uint64(allocStart) + bitmapBlocks(blockCount))
	return Superblock{
		BlockCount:      blockCount,
		NextNodeId:      tree.RootNodeId,
		BlockAllocStart: allocStart,
		RootAddr:        rootAddr,
	}
}

// AllocateNode returns the next NodeId and advances the counter.
func (sb *Superblock) AllocateNode() tree.NodeId {
	id := sb.NextNodeId
	sb.NextNodeId++
	return id
}

// Clone returns an independent copy, used by the transaction layer to
// stage a mutable copy of the live superblock.
func (sb Superblock) Clone() Superblock {
	return sb
}

func (sb Superblock) MarshalBlock() block.Block {
	var b block.Block
	copy(b[0:8], Signature)
	putU64(b[8:16], sb.BlockCount)
	putU64(b[16:24], uint64(sb.NextNodeId))
	putU64(b[24:32], uint64(sb.BlockAllocStart))
	putU64(b[32:40], uint64(sb.RootAddr))
	return b
}

func UnmarshalSuperblock(b *block.Block) (Superblock, error) {
	if string(b[0:8]) != Signature {
		return Superblock{}, ferrors.New(ferrors.Uninterpretable)
	}
	return Superblock{
		BlockCount:      getU64(b[8:16]),
		NextNodeId:      tree.NodeId(getU64(b[16:24])),
		BlockAllocStart: block.Addr(getU64(b[24:32])),
		RootAddr:        block.Addr(getU64(b[32:40])),
	}, nil
}

func putU64(dst []byte, v uint64) {
	b, _ := binint.U64le(v).MarshalBinary()
	copy(dst, b)
}

func getU64(src []byte) uint64 {
	var v binint.U64le
	_, _ = v.UnmarshalBinary(src)
	return uint64(v)
}
