// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tree implements the persistent, block-addressed B+-tree
// (C3 node codec, C4 engine) keyed by a composite
// (node_id, datatype, offset) key.
package tree

import (
	"github.com/greinafs/greinafs/lib/binstruct/binint"
)

// NodeId identifies a filesystem object. 0 is permanently null; 1 is
// permanently the root directory, created at format time.
type NodeId uint64

const (
	NullNodeId NodeId = 0
	RootNodeId NodeId = 1
)

// DataType discriminates the three item kinds clustered under a
// NodeId.
type DataType uint8

const (
	DataTypeNode     DataType = 0
	DataTypeExtent   DataType = 1
	DataTypeDirEntry DataType = 2
)

// KeySize is the on-disk width of a Key: an 8-byte id, a 1-byte
// datatype, and an 8-byte offset.
const KeySize = 17

// Key is the composite tree key. Total ordering is lexicographic by
// (Id, Datatype, Offset), which clusters all items of one object
// together and, within an object, groups by datatype.
type Key struct {
	Id       NodeId
	Datatype DataType
	Offset   uint64
}

func NodeKey(id NodeId) Key {
	return Key{Id: id, Datatype: DataTypeNode, Offset: 0}
}

func ExtentKey(id NodeId, logicalStart uint64) Key {
	return Key{Id: id, Datatype: DataTypeExtent, Offset: logicalStart}
}

func DirEntryKey(id NodeId, nameHash uint64) Key {
	return Key{Id: id, Datatype: DataTypeDirEntry, Offset: nameHash}
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b.
func (a Key) Compare(b Key) int {
	switch {
	case a.Id < b.Id:
		return -1
	case a.Id > b.Id:
		return 1
	}
	switch {
	case a.Datatype < b.Datatype:
		return -1
	case a.Datatype > b.Datatype:
		return 1
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

func (a Key) Less(b Key) bool {
	return a.Compare(b) < 0
}

// MaxKeyFor is the greatest possible key for a given id and datatype, used as the
// starting point of descending get_le scans over an object's items.
func MaxKeyFor(id NodeId, dt DataType) Key {
	return Key{Id: id, Datatype: dt, Offset: ^uint64(0)}
}

func (k Key) MarshalBinary() ([]byte, error) {
	buf := make([]byte, KeySize)
	idb, _ := binint.U64le(k.Id).MarshalBinary()
	copy(buf[0:8], idb)
	buf[8] = byte(k.Datatype)
	offb, _ := binint.U64le(k.Offset).MarshalBinary()
	copy(buf[9:17], offb)
	return buf, nil
}

func (k *Key) UnmarshalBinary(data []byte) (int, error) {
	var id binint.U64le
	if _, err := id.UnmarshalBinary(data[0:8]); err != nil {
		return 0, err
	}
	k.Id = NodeId(id)
	k.Datatype = DataType(data[8])
	var off binint.U64le
	if _, err := off.UnmarshalBinary(data[9:17]); err != nil {
		return 0, err
	}
	k.Offset = uint64(off)
	return KeySize, nil
}
