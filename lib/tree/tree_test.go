// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/tree"
)

func newFixture(t *testing.T, blocks uint64) (*storage.MapStorage, *allocator.Bitmap, *block.Addr) {
	t.Helper()
	s := storage.NewMapStorage(blocks)
	alloc := allocator.NewBitmap(blocks)

	rootAddr, err := alloc.Allocate(1)
	require.NoError(t, err)

	var rootBlock block.Block
	tree.FormatLeaf(&rootBlock)
	require.NoError(t, s.WriteAt(&rootBlock, rootAddr))

	root := rootAddr
	return s, alloc, &root
}

func TestTreeInsertGet(t *testing.T) {
	s, alloc, root := newFixture(t, 256)

	key := tree.Key{Id: 1, Datatype: tree.DataTypeNode, Offset: 0}
	val := []byte("hello")
	require.NoError(t, tree.Insert(s, alloc, root, key, val))

	got, ok, err := tree.Get(s, *root, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)
}

func TestTreeInsertManyAndSplit(t *testing.T) {
	s, alloc, root := newFixture(t, 4096)

	const n = 300
	for i := 0; i < n; i++ {
		key := tree.Key{Id: tree.NodeId(i + 1), Datatype: tree.DataTypeNode, Offset: 0}
		val := []byte(fmt.Sprintf("value-%d", i))
		require.NoError(t, tree.Insert(s, alloc, root, key, val))
	}

	for i := 0; i < n; i++ {
		key := tree.Key{Id: tree.NodeId(i + 1), Datatype: tree.DataTypeNode, Offset: 0}
		got, ok, err := tree.Get(s, *root, key)
		require.NoError(t, err)
		require.True(t, ok, "missing key %d", i)
		assert.Equal(t, []byte(fmt.Sprintf("value-%d", i)), got)
	}
}

func TestTreeRemove(t *testing.T) {
	s, alloc, root := newFixture(t, 4096)

	const n = 100
	for i := 0; i < n; i++ {
		key := tree.Key{Id: tree.NodeId(i + 1), Datatype: tree.DataTypeNode, Offset: 0}
		require.NoError(t, tree.Insert(s, alloc, root, key, []byte{byte(i)}))
	}

	for i := 0; i < n; i += 2 {
		key := tree.Key{Id: tree.NodeId(i + 1), Datatype: tree.DataTypeNode, Offset: 0}
		_, ok, err := tree.Remove(s, alloc, root, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := 0; i < n; i++ {
		key := tree.Key{Id: tree.NodeId(i + 1), Datatype: tree.DataTypeNode, Offset: 0}
		_, ok, err := tree.Get(s, *root, key)
		require.NoError(t, err)
		if i%2 == 0 {
			assert.False(t, ok, "key %d should have been removed", i)
		} else {
			assert.True(t, ok, "key %d should still be present", i)
		}
	}
}

func TestTreeGetLE(t *testing.T) {
	s, alloc, root := newFixture(t, 256)

	for _, off := range []uint64{10, 20, 30} {
		key := tree.Key{Id: 1, Datatype: tree.DataTypeExtent, Offset: off}
		require.NoError(t, tree.Insert(s, alloc, root, key, []byte{byte(off)}))
	}

	k, v, ok, err := tree.GetLE(s, *root, tree.Key{Id: 1, Datatype: tree.DataTypeExtent, Offset: 25})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(20), k.Offset)
	assert.Equal(t, []byte{20}, v)
}

func TestTreeTryInsertOccupied(t *testing.T) {
	s, alloc, root := newFixture(t, 256)

	key := tree.Key{Id: 1, Datatype: tree.DataTypeNode, Offset: 0}
	require.NoError(t, tree.TryInsert(s, alloc, root, key, []byte("a")))
	err := tree.TryInsert(s, alloc, root, key, []byte("b"))
	require.NoError(t, err)

	got, ok, err := tree.Get(s, *root, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)
}

func FuzzTreeInsertRemove(f *testing.F) {
	Ins := uint8(0b1000_0000)
	Del := uint8(0)

	f.Add([]uint8{})
	f.Add([]uint8{Ins | 5, Del | 5})
	f.Add([]uint8{Ins | 1, Ins | 2, Ins | 3, Del | 2, Ins | 2})

	f.Fuzz(func(t *testing.T, dat []uint8) {
		s, alloc, root := newFixture(t, 8192)
		present := make(map[uint8]bool)

		for _, b := range dat {
			ins := (b & 0b1000_0000) != 0
			val := b & 0b0111_1111
			key := tree.Key{Id: tree.NodeId(val) + 1, Datatype: tree.DataTypeNode, Offset: 0}
			if ins {
				if err := tree.TryInsert(s, alloc, root, key, []byte{val}); err == nil {
					present[val] = true
				}
			} else {
				_, ok, err := tree.Remove(s, alloc, root, key)
				require.NoError(t, err)
				if present[val] {
					require.True(t, ok)
				}
				delete(present, val)
			}
		}

		for val, want := range present {
			if !want {
				continue
			}
			key := tree.Key{Id: tree.NodeId(val) + 1, Datatype: tree.DataTypeNode, Offset: 0}
			got, ok, err := tree.Get(s, *root, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{val}, got)
		}
	})
}
