// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package transaction

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs"
	"github.com/greinafs/greinafs/lib/tree"
)

// Filesystem is an in-memory view of a greinafs volume backed by a
// storage.Storage device: the live superblock, the live allocator
// bitmap, and the device itself. All mutation happens through a
// Transaction obtained via Tx.
type Filesystem struct {
	storage    storage.Storage
	superblock fs.Superblock
	allocator  *allocator.Bitmap
}

// Create formats storage as a fresh, empty greinafs volume and
// returns the mounted Filesystem.
func Create(s storage.Storage) (*Filesystem, error) {
	blockCount := s.Capacity()
	sb := fs.NewSuperblock(blockCount)
	bitmap := allocator.NewBitmap(blockCount)

	// Reserve the superblock, the allocator bitmap, and the initial
	// (empty, leaf) tree root, which together occupy blocks
	// [0, sb.RootAddr].
	reserved := uint64(sb.RootAddr) + 1
	if _, err := bitmap.Allocate(reserved); err != nil {
		return nil, err
	}

	var rootBlock block.Block
	tree.FormatLeaf(&rootBlock)
	if err := s.WriteAt(&rootBlock, sb.RootAddr); err != nil {
		return nil, err
	}

	fsys := &Filesystem{storage: s, superblock: sb, allocator: bitmap}

	err := fsys.Tx(func(tx *Transaction) error {
		rootID, err := tx.CreateNode(fs.FileTypeDir, 1)
		if err != nil {
			return err
		}
		if rootID != tree.RootNodeId {
			panic("greinafs: root node must be allocated with id 1")
		}
		return fs.CreateRootEntries(tx.storage, tx.allocator, &tx.sb, rootID)
	})
	if err != nil {
		return nil, err
	}
	return fsys, nil
}

// Mount reads the superblock and allocator bitmap off an existing
// storage device.
func Mount(s storage.Storage) (*Filesystem, error) {
	var sbBlock block.Block
	if err := s.ReadAt(&sbBlock, fs.SuperblockAddr); err != nil {
		return nil, err
	}
	sb, err := fs.UnmarshalSuperblock(&sbBlock)
	if err != nil {
		return nil, err
	}

	bitmap, err := readBitmap(s, sb)
	if err != nil {
		return nil, err
	}

	return &Filesystem{storage: s, superblock: sb, allocator: bitmap}, nil
}

func readBitmap(s storage.Storage, sb fs.Superblock) (*allocator.Bitmap, error) {
	tmp := allocator.NewBitmap(sb.BlockCount)
	byteLen := tmp.ByteLen()
	blockCount := (byteLen + block.Size - 1) / block.Size

	data := make([]byte, 0, blockCount*block.Size)
	for i := uint64(0); i < blockCount; i++ {
		var blk block.Block
		addr := block.Addr(uint64(sb.BlockAllocStart) + i)
		if err := s.ReadAt(&blk, addr); err != nil {
			return nil, err
		}
		data = append(data, blk[:]...)
	}
	return allocator.BitmapFromBytes(sb.BlockCount, data), nil
}

// Tx runs f within a fresh Transaction over the live filesystem state,
// committing on success and leaving the live state untouched if f
// returns an error.
func (fsys *Filesystem) Tx(f func(tx *Transaction) error) error {
	tx := New(fsys.storage, fsys.allocator, &fsys.superblock)
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (fsys *Filesystem) Superblock() fs.Superblock { return fsys.superblock }

// Available returns the number of free blocks in the volume.
func (fsys *Filesystem) Available() uint64 { return fsys.allocator.Available() }
