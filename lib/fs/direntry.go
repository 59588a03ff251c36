// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"strings"
	"unicode/utf8"

	"github.com/greinafs/greinafs/lib/binstruct/binint"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// NameMaxLen is the longest a directory entry name may be, in bytes.
const NameMaxLen = 256

// dirEntryName is a validated UTF-8 directory entry name.
type dirEntryName string

func itselfName() dirEntryName { return dirEntryName(".") }
func parentName() dirEntryName { return dirEntryName("..") }

func itselfHash() uint64 { return fnvHash([]byte(".")) }
func parentHash() uint64 { return fnvHash([]byte("..")) }

func (n dirEntryName) hash() uint64 { return fnvHash([]byte(n)) }

// validateName rejects names that are too long, not valid UTF-8,
// contain NUL or '/', or are the reserved "." / "..".
func validateName(name string) (dirEntryName, error) {
	if len(name) > NameMaxLen {
		return "", ferrors.New(ferrors.InvalidName)
	}
	if !utf8.ValidString(name) {
		return "", ferrors.New(ferrors.InvalidName)
	}
	if strings.ContainsRune(name, 0) || strings.ContainsRune(name, '/') {
		return "", ferrors.New(ferrors.InvalidName)
	}
	if name == "." || name == ".." {
		return "", ferrors.New(ferrors.InvalidName)
	}
	return dirEntryName(name), nil
}

// DirEntry is a directory entry: the child's filetype and NodeId,
// keyed under its parent by the FNV-1a hash of Name.
type DirEntry struct {
	FileType FileType
	Id       tree.NodeId
	Name     string
}

func (e DirEntry) name() dirEntryName { return dirEntryName(e.Name) }

func (e DirEntry) marshal() []byte {
	nameBytes := []byte(e.Name)
	buf := make([]byte, 1+8+len(nameBytes))
	buf[0] = byte(e.FileType)
	ib, _ := binint.U64le(e.Id).MarshalBinary()
	copy(buf[1:9], ib)
	copy(buf[9:], nameBytes)
	return buf
}

func unmarshalDirEntry(buf []byte) (DirEntry, error) {
	if len(buf) < 9 {
		return DirEntry{}, ferrors.New(ferrors.Uninterpretable)
	}
	var id binint.U64le
	if _, err := id.UnmarshalBinary(buf[1:9]); err != nil {
		return DirEntry{}, ferrors.New(ferrors.Uninterpretable)
	}
	name := buf[9:]
	if !utf8.Valid(name) {
		return DirEntry{}, ferrors.New(ferrors.Uninterpretable)
	}
	return DirEntry{
		FileType: FileType(buf[0]),
		Id:       tree.NodeId(id),
		Name:     string(name),
	}, nil
}

func createDirEntry(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, ft FileType, id tree.NodeId, name dirEntryName) error {
	e := DirEntry{FileType: ft, Id: id, Name: string(name)}
	key := tree.DirEntryKey(parent, name.hash())
	return tree.TryInsert(s, alloc, &sb.RootAddr, key, e.marshal())
}

func readDirEntry(s storage.Storage, sb *Superblock, parent tree.NodeId, nameHash uint64) (DirEntry, error) {
	data, ok, err := tree.Get(s, sb.RootAddr, tree.DirEntryKey(parent, nameHash))
	if err != nil {
		return DirEntry{}, err
	}
	if !ok {
		return DirEntry{}, ferrors.New(ferrors.DirEntryNotFound)
	}
	return unmarshalDirEntry(data)
}

// writeDirEntry overwrites an existing directory entry (e.g. a moved
// directory's ".." entry). The tree has no in-place update primitive,
// so this removes the existing record before inserting the new one.
func writeDirEntry(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, e DirEntry) error {
	key := tree.DirEntryKey(parent, e.name().hash())
	if _, ok, err := tree.Remove(s, alloc, &sb.RootAddr, key); err != nil {
		return err
	} else if !ok {
		return ferrors.New(ferrors.DirEntryNotFound)
	}
	return tree.Insert(s, alloc, &sb.RootAddr, key, e.marshal())
}

// FindEntry looks up name within parent.
func FindEntry(s storage.Storage, sb *Superblock, parent tree.NodeId, name string) (DirEntry, error) {
	n, err := validateName(name)
	if err != nil {
		return DirEntry{}, err
	}
	return readDirEntry(s, sb, parent, n.hash())
}

// LinkFile adds another name for an existing non-directory node,
// incrementing its link count.
func LinkFile(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, id tree.NodeId, name string) error {
	n, err := validateName(name)
	if err != nil {
		return err
	}
	node, err := ReadNode(s, sb, id)
	if err != nil {
		return err
	}
	if node.FileType == FileTypeDir {
		return ferrors.New(ferrors.IsDir)
	}
	if err := createDirEntry(s, alloc, sb, parent, node.FileType, id, n); err != nil {
		return err
	}
	node.Links++
	return WriteNode(s, alloc, sb, id, node)
}

// UnlinkFile removes name from parent, decrementing (and possibly
// removing) the target node.
func UnlinkFile(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, name string) error {
	n, err := validateName(name)
	if err != nil {
		return err
	}
	key := tree.DirEntryKey(parent, n.hash())
	data, ok, err := tree.Get(s, sb.RootAddr, key)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.New(ferrors.DirEntryNotFound)
	}
	entry, err := unmarshalDirEntry(data)
	if err != nil {
		return err
	}
	if entry.FileType == FileTypeDir {
		return ferrors.New(ferrors.IsDir)
	}

	node, err := ReadNode(s, sb, entry.Id)
	if err != nil {
		return err
	}

	if _, _, err := tree.Remove(s, alloc, &sb.RootAddr, key); err != nil {
		return err
	}

	node.Links--
	if node.Links == 0 {
		return RemoveNode(s, alloc, sb, entry.Id)
	}
	return WriteNode(s, alloc, sb, entry.Id, node)
}

// RenameEntry moves oldName under oldParent to newName under
// newParent, rejecting the move if it would make a directory its own
// descendant.
func RenameEntry(s storage.Storage, alloc allocator.Allocator, sb *Superblock, oldParent tree.NodeId, oldName string, newParent tree.NodeId, newName string) error {
	oldN, err := validateName(oldName)
	if err != nil {
		return err
	}
	newN, err := validateName(newName)
	if err != nil {
		return err
	}
	if oldParent == newParent && oldN == newN {
		return nil
	}

	newHash := newN.hash()
	if _, err := readDirEntry(s, sb, newParent, newHash); err == nil {
		return ferrors.New(ferrors.DirEntryExists)
	}

	oldHash := oldN.hash()
	entry, err := readDirEntry(s, sb, oldParent, oldHash)
	if err != nil {
		return err
	}

	if entry.FileType == FileTypeDir {
		isAnc, err := isAncestor(s, sb, entry.Id, newParent)
		if err != nil {
			return err
		}
		if isAnc {
			return ferrors.New(ferrors.InvalidMove)
		}

		parentEntry := DirEntry{FileType: FileTypeDir, Id: newParent, Name: string(parentName())}
		if err := writeDirEntry(s, alloc, sb, entry.Id, parentEntry); err != nil {
			return err
		}
	}

	if _, _, err := tree.Remove(s, alloc, &sb.RootAddr, tree.DirEntryKey(oldParent, oldHash)); err != nil {
		return err
	}

	entry.Name = string(newN)
	key := tree.DirEntryKey(newParent, newHash)
	return tree.TryInsert(s, alloc, &sb.RootAddr, key, entry.marshal())
}

// isAncestor reports whether ancestor is an ancestor directory of
// dir. A directory is its own ancestor.
func isAncestor(s storage.Storage, sb *Superblock, ancestor, dir tree.NodeId) (bool, error) {
	curr := dir
	for {
		if curr == ancestor {
			return true, nil
		}
		if curr == tree.RootNodeId {
			return false, nil
		}
		e, err := readDirEntry(s, sb, curr, parentHash())
		if err != nil {
			return false, err
		}
		curr = e.Id
	}
}
