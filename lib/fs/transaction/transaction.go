// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package transaction

import (
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs"
	"github.com/greinafs/greinafs/lib/tree"
)

// Transaction buffers a batch of filesystem mutations in memory
// (storage writes and allocator state), exposing them to reads made
// through the same Transaction, and is only durable once Commit
// returns nil. Discarding a Transaction without calling Commit leaves
// the live filesystem untouched.
type Transaction struct {
	liveStorage   storage.Storage
	liveAllocator *allocator.Bitmap
	liveSB        *fs.Superblock

	storage   *bufStorage
	allocator *bufAllocator
	sb        fs.Superblock
}

// New starts a transaction against the live filesystem state.
func New(liveStorage storage.Storage, liveAllocator *allocator.Bitmap, liveSB *fs.Superblock) *Transaction {
	return &Transaction{
		liveStorage:   liveStorage,
		liveAllocator: liveAllocator,
		liveSB:        liveSB,
		storage:       newBufStorage(liveStorage),
		allocator:     newBufAllocator(liveAllocator),
		sb:            liveSB.Clone(),
	}
}

// Commit flushes the superblock, the allocator bitmap, and every
// dirty block to the underlying storage, in that order, then swaps
// the transaction's staged state in as live. On success the
// transaction must not be reused.
func (tx *Transaction) Commit() error {
	sbBlock := tx.sb.MarshalBlock()
	if err := tx.storage.WriteAt(&sbBlock, fs.SuperblockAddr); err != nil {
		return err
	}

	if err := tx.allocator.sync(tx.storage, tx.liveAllocator, tx.sb.BlockAllocStart); err != nil {
		return err
	}

	if err := tx.storage.sync(); err != nil {
		return err
	}

	*tx.liveSB = tx.sb
	return nil
}

func (tx *Transaction) CreateNode(ft fs.FileType, links uint32) (tree.NodeId, error) {
	return fs.CreateNode(tx.storage, tx.allocator, &tx.sb, ft, links)
}

func (tx *Transaction) ReadNode(id tree.NodeId) (fs.Node, error) {
	return fs.ReadNode(tx.storage, &tx.sb, id)
}

func (tx *Transaction) WriteNode(id tree.NodeId, n fs.Node) error {
	return fs.WriteNode(tx.storage, tx.allocator, &tx.sb, id, n)
}

func (tx *Transaction) RemoveNode(id tree.NodeId) error {
	return fs.RemoveNode(tx.storage, tx.allocator, &tx.sb, id)
}

func (tx *Transaction) FindEntry(parent tree.NodeId, name string) (fs.DirEntry, error) {
	return fs.FindEntry(tx.storage, &tx.sb, parent, name)
}

func (tx *Transaction) CreateDir(parent tree.NodeId, name string) (tree.NodeId, error) {
	return fs.CreateDir(tx.storage, tx.allocator, &tx.sb, parent, name)
}

func (tx *Transaction) RemoveDir(parent tree.NodeId, name string) (tree.NodeId, error) {
	return fs.RemoveDir(tx.storage, tx.allocator, &tx.sb, parent, name)
}

func (tx *Transaction) ReadDir(id tree.NodeId) ([]fs.DirEntry, error) {
	return fs.ReadDir(tx.storage, &tx.sb, id)
}

func (tx *Transaction) CreateFile(parent tree.NodeId, name string, ft fs.FileType) (tree.NodeId, error) {
	return fs.CreateFile(tx.storage, tx.allocator, &tx.sb, parent, ft, name)
}

func (tx *Transaction) ReadFileAt(id tree.NodeId, offset uint64, buf []byte) (uint64, error) {
	return fs.ReadFileAt(tx.storage, &tx.sb, id, offset, buf)
}

func (tx *Transaction) WriteFileAt(id tree.NodeId, offset uint64, buf []byte) (uint64, error) {
	return fs.WriteFileAt(tx.storage, tx.allocator, &tx.sb, id, offset, buf)
}

func (tx *Transaction) TruncateFile(id tree.NodeId, size uint64) error {
	return fs.TruncateFile(tx.storage, tx.allocator, &tx.sb, id, size)
}

func (tx *Transaction) CreateSymlink(parent tree.NodeId, name, target string) (tree.NodeId, error) {
	return fs.CreateSymlink(tx.storage, tx.allocator, &tx.sb, parent, name, target)
}

func (tx *Transaction) ReadSymlink(id tree.NodeId) (string, error) {
	return fs.ReadSymlink(tx.storage, &tx.sb, id)
}

func (tx *Transaction) LinkFile(parent tree.NodeId, id tree.NodeId, name string) error {
	return fs.LinkFile(tx.storage, tx.allocator, &tx.sb, parent, id, name)
}

func (tx *Transaction) UnlinkFile(parent tree.NodeId, name string) error {
	return fs.UnlinkFile(tx.storage, tx.allocator, &tx.sb, parent, name)
}

func (tx *Transaction) RenameEntry(oldParent tree.NodeId, oldName string, newParent tree.NodeId, newName string) error {
	return fs.RenameEntry(tx.storage, tx.allocator, &tx.sb, oldParent, oldName, newParent, newName)
}
