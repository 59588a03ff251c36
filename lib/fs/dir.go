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

// CreateDir creates a new subdirectory named name under parent,
// wiring up its "." and ".." synthetic entries.
func CreateDir(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, name string) (tree.NodeId, error) {
	n, err := validateName(name)
	if err != nil {
		return tree.NullNodeId, err
	}
	if _, err := readDirEntry(s, sb, parent, n.hash()); err == nil {
		return tree.NullNodeId, ferrors.New(ferrors.DirEntryExists)
	}

	id, err := CreateNode(s, alloc, sb, FileTypeDir, 1)
	if err != nil {
		return tree.NullNodeId, err
	}

	if err := createDirEntry(s, alloc, sb, parent, FileTypeDir, id, n); err != nil {
		return tree.NullNodeId, err
	}
	if err := createDirEntry(s, alloc, sb, id, FileTypeDir, id, itselfName()); err != nil {
		return tree.NullNodeId, err
	}
	if err := createDirEntry(s, alloc, sb, id, FileTypeDir, parent, parentName()); err != nil {
		return tree.NullNodeId, err
	}

	return id, nil
}

// CreateRootEntries wires up the root directory's self-referencing
// "." and ".." entries. Called once, at format time.
func CreateRootEntries(s storage.Storage, alloc allocator.Allocator, sb *Superblock, rootID tree.NodeId) error {
	if err := createDirEntry(s, alloc, sb, rootID, FileTypeDir, rootID, itselfName()); err != nil {
		return err
	}
	return createDirEntry(s, alloc, sb, rootID, FileTypeDir, rootID, parentName())
}

// RemoveDir removes the empty subdirectory named name under parent.
func RemoveDir(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, name string) (tree.NodeId, error) {
	n, err := validateName(name)
	if err != nil {
		return tree.NullNodeId, err
	}

	entry, err := readDirEntry(s, sb, parent, n.hash())
	if err != nil {
		return tree.NullNodeId, err
	}
	if entry.FileType != FileTypeDir {
		return tree.NullNodeId, ferrors.New(ferrors.NotDir)
	}

	empty, err := IsDirEmpty(s, sb, entry.Id)
	if err != nil {
		return tree.NullNodeId, err
	}
	if !empty {
		return tree.NullNodeId, ferrors.New(ferrors.DirNotEmpty)
	}

	if _, _, err := tree.Remove(s, alloc, &sb.RootAddr, tree.DirEntryKey(entry.Id, itselfHash())); err != nil {
		return tree.NullNodeId, err
	}
	if _, _, err := tree.Remove(s, alloc, &sb.RootAddr, tree.DirEntryKey(entry.Id, parentHash())); err != nil {
		return tree.NullNodeId, err
	}
	if _, _, err := tree.Remove(s, alloc, &sb.RootAddr, tree.DirEntryKey(parent, n.hash())); err != nil {
		return tree.NullNodeId, err
	}

	if err := RemoveNode(s, alloc, sb, entry.Id); err != nil {
		return tree.NullNodeId, err
	}

	return entry.Id, nil
}

// IsDirEmpty reports whether id has no entries besides "." and "..".
func IsDirEmpty(s storage.Storage, sb *Superblock, id tree.NodeId) (bool, error) {
	ih, ph := itselfHash(), parentHash()

	curr := tree.MaxKeyFor(id, tree.DataTypeDirEntry)
	for {
		k, _, ok, err := tree.GetLE(s, sb.RootAddr, curr)
		if err != nil {
			return false, err
		}
		if !ok || k.Id != id || k.Datatype != tree.DataTypeDirEntry {
			break
		}

		hash := k.Offset
		if hash != ih && hash != ph {
			return false, nil
		}

		if hash == 0 {
			break
		}
		curr = tree.DirEntryKey(id, hash-1)
	}

	return true, nil
}

// ReadDir lists all entries of directory id, including "." and "..".
func ReadDir(s storage.Storage, sb *Superblock, id tree.NodeId) ([]DirEntry, error) {
	var entries []DirEntry

	curr := tree.MaxKeyFor(id, tree.DataTypeDirEntry)
	for {
		k, data, ok, err := tree.GetLE(s, sb.RootAddr, curr)
		if err != nil {
			return nil, err
		}
		if !ok || k.Id != id || k.Datatype != tree.DataTypeDirEntry {
			break
		}

		entry, err := unmarshalDirEntry(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)

		hash := k.Offset
		if hash == 0 {
			break
		}
		curr = tree.DirEntryKey(id, hash-1)
	}

	return entries, nil
}
