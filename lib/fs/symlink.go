// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// CreateSymlink creates a symlink named name under parent pointing at
// target, storing target as the symlink's file content.
func CreateSymlink(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, name, target string) (tree.NodeId, error) {
	id, err := CreateFile(s, alloc, sb, parent, FileTypeSymlink, name)
	if err != nil {
		return tree.NullNodeId, err
	}
	if _, err := WriteFileAt(s, alloc, sb, id, 0, []byte(target)); err != nil {
		return tree.NullNodeId, err
	}
	return id, nil
}

// ReadSymlink returns the target path stored in the symlink id.
func ReadSymlink(s storage.Storage, sb *Superblock, id tree.NodeId) (string, error) {
	node, err := ReadNode(s, sb, id)
	if err != nil {
		return "", err
	}
	if node.FileType != FileTypeSymlink {
		return "", ferrors.New(ferrors.NotSymlink)
	}
	buf := make([]byte, node.Size)
	if _, err := ReadFileAt(s, sb, id, 0, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
