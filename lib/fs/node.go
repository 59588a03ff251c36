// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"github.com/greinafs/greinafs/lib/binstruct/binint"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// FileType discriminates the three kinds of filesystem object a Node
// can be.
type FileType uint8

const (
	FileTypeFile FileType = iota
	FileTypeDir
	FileTypeSymlink
)

// Node is the fixed 13-byte inode record stored under the
// (id, DataTypeNode, 0) key of every filesystem object.
type Node struct {
	Size     uint64
	FileType FileType
	Links    uint32
}

const nodeRecordSize = 8 + 1 + 4

func newNode(ft FileType, links uint32) Node {
	return Node{FileType: ft, Links: links}
}

func (n Node) marshal() []byte {
	return MarshalNode(n)
}

// MarshalNode encodes a Node to its 13-byte on-disk record, exported
// for callers (such as debug-dump tooling) that need the raw bytes
// without going through the tree.
func MarshalNode(n Node) []byte {
	buf := make([]byte, nodeRecordSize)
	sb, _ := binint.U64le(n.Size).MarshalBinary()
	copy(buf[0:8], sb)
	buf[8] = byte(n.FileType)
	lb, _ := binint.U32le(n.Links).MarshalBinary()
	copy(buf[9:13], lb)
	return buf
}

func unmarshalNode(buf []byte) (Node, error) {
	if len(buf) != nodeRecordSize {
		return Node{}, ferrors.New(ferrors.Uninterpretable)
	}
	var n Node
	var size binint.U64le
	if _, err := size.UnmarshalBinary(buf[0:8]); err != nil {
		return Node{}, ferrors.New(ferrors.Uninterpretable)
	}
	n.Size = uint64(size)
	n.FileType = FileType(buf[8])
	var links binint.U32le
	if _, err := links.UnmarshalBinary(buf[9:13]); err != nil {
		return Node{}, ferrors.New(ferrors.Uninterpretable)
	}
	n.Links = uint32(links)
	return n, nil
}

// CreateNode allocates a fresh NodeId and writes its inode record.
func CreateNode(s storage.Storage, alloc allocator.Allocator, sb *Superblock, ft FileType, links uint32) (tree.NodeId, error) {
	id := sb.AllocateNode()
	n := newNode(ft, links)
	key := tree.NodeKey(id)
	if err := tree.TryInsert(s, alloc, &sb.RootAddr, key, n.marshal()); err != nil {
		return tree.NullNodeId, err
	}
	return id, nil
}

// ReadNode reads the inode record for id.
func ReadNode(s storage.Storage, sb *Superblock, id tree.NodeId) (Node, error) {
	data, ok, err := tree.Get(s, sb.RootAddr, tree.NodeKey(id))
	if err != nil {
		return Node{}, err
	}
	if !ok {
		return Node{}, ferrors.New(ferrors.NodeNotFound)
	}
	return unmarshalNode(data)
}

// WriteNode overwrites the inode record for id. The tree has no
// in-place update primitive, so this removes the existing record
// before inserting the new one.
func WriteNode(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId, n Node) error {
	key := tree.NodeKey(id)
	if _, ok, err := tree.Remove(s, alloc, &sb.RootAddr, key); err != nil {
		return err
	} else if !ok {
		return ferrors.New(ferrors.NodeNotFound)
	}
	return tree.Insert(s, alloc, &sb.RootAddr, key, n.marshal())
}

// RemoveNode removes the inode record and all of its extents,
// deallocating their blocks.
func RemoveNode(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId) error {
	_, ok, err := tree.Remove(s, alloc, &sb.RootAddr, tree.NodeKey(id))
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.New(ferrors.NodeNotFound)
	}
	return deallocateExtents(s, alloc, sb, id)
}

func deallocateExtents(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId) error {
	key := tree.MaxKeyFor(id, tree.DataTypeExtent)
	for {
		k, data, ok, err := tree.GetLE(s, sb.RootAddr, key)
		if err != nil {
			return err
		}
		if !ok || k.Id != id || k.Datatype != tree.DataTypeExtent {
			return nil
		}
		removed, _, err := tree.Remove(s, alloc, &sb.RootAddr, k)
		if err != nil {
			return err
		}
		ext, err := unmarshalExtent(removed)
		if err != nil {
			return err
		}
		if err := alloc.Deallocate(ext.startAddr(), ext.Len); err != nil {
			return err
		}
		if k.Offset == 0 {
			return nil
		}
		key = tree.ExtentKey(id, k.Offset-1)
	}
}
