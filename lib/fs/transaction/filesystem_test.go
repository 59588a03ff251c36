// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package transaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs"
	"github.com/greinafs/greinafs/lib/fs/transaction"
	"github.com/greinafs/greinafs/lib/tree"
)

func newFixture(t *testing.T) *transaction.Filesystem {
	t.Helper()
	s := storage.NewMapStorage(4096)
	fsys, err := transaction.Create(s)
	require.NoError(t, err)
	return fsys
}

func TestCreateFormatsRootDir(t *testing.T) {
	fsys := newFixture(t)

	var entries []fs.DirEntry
	err := fsys.Tx(func(tx *transaction.Transaction) error {
		node, err := tx.ReadNode(tree.RootNodeId)
		if err != nil {
			return err
		}
		assert.Equal(t, fs.FileTypeDir, node.FileType)

		entries, err = tx.ReadDir(tree.RootNodeId)
		return err
	})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
}

func TestMkdirCreateFileWriteRead(t *testing.T) {
	fsys := newFixture(t)

	var fileID tree.NodeId
	err := fsys.Tx(func(tx *transaction.Transaction) error {
		dirID, err := tx.CreateDir(tree.RootNodeId, "docs")
		if err != nil {
			return err
		}
		fileID, err = tx.CreateFile(dirID, "readme.txt", fs.FileTypeFile)
		return err
	})
	require.NoError(t, err)

	data := []byte("hello, greinafs")
	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.WriteFileAt(fileID, 0, data)
		return err
	})
	require.NoError(t, err)

	buf := make([]byte, len(data))
	err = fsys.Tx(func(tx *transaction.Transaction) error {
		n, err := tx.ReadFileAt(fileID, 0, buf)
		assert.Equal(t, uint64(len(data)), n)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestWriteSparseHoleReadsZero(t *testing.T) {
	fsys := newFixture(t)

	var fileID tree.NodeId
	err := fsys.Tx(func(tx *transaction.Transaction) error {
		var err error
		fileID, err = tx.CreateFile(tree.RootNodeId, "sparse", fs.FileTypeFile)
		return err
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.WriteFileAt(fileID, 8192, []byte("tail"))
		return err
	})
	require.NoError(t, err)

	buf := make([]byte, 16)
	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.ReadFileAt(fileID, 0, buf)
		return err
	})
	require.NoError(t, err)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestTruncateShrinksAndZeroesTail(t *testing.T) {
	fsys := newFixture(t)

	var fileID tree.NodeId
	err := fsys.Tx(func(tx *transaction.Transaction) error {
		var err error
		fileID, err = tx.CreateFile(tree.RootNodeId, "trunc", fs.FileTypeFile)
		if err != nil {
			return err
		}
		_, err = tx.WriteFileAt(fileID, 0, []byte("0123456789"))
		return err
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		return tx.TruncateFile(fileID, 4)
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		node, err := tx.ReadNode(fileID)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(4), node.Size)

		// growing the file again exposes the zeroed tail, not the old bytes
		if err := tx.TruncateFile(fileID, 10); err != nil {
			return err
		}
		buf := make([]byte, 10)
		if _, err := tx.ReadFileAt(fileID, 0, buf); err != nil {
			return err
		}
		assert.Equal(t, []byte("0123\x00\x00\x00\x00\x00\x00"), buf)
		return nil
	})
	require.NoError(t, err)
}

func TestRenameAndUnlink(t *testing.T) {
	fsys := newFixture(t)

	err := fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.CreateFile(tree.RootNodeId, "a.txt", fs.FileTypeFile)
		return err
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		return tx.RenameEntry(tree.RootNodeId, "a.txt", tree.RootNodeId, "b.txt")
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.FindEntry(tree.RootNodeId, "a.txt")
		return err
	})
	require.Error(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.FindEntry(tree.RootNodeId, "b.txt")
		return err
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		return tx.UnlinkFile(tree.RootNodeId, "b.txt")
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.FindEntry(tree.RootNodeId, "b.txt")
		return err
	})
	require.Error(t, err)
}

func TestSymlink(t *testing.T) {
	fsys := newFixture(t)

	err := fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.CreateSymlink(tree.RootNodeId, "link", "/target/path")
		return err
	})
	require.NoError(t, err)

	var target string
	err = fsys.Tx(func(tx *transaction.Transaction) error {
		entry, err := tx.FindEntry(tree.RootNodeId, "link")
		if err != nil {
			return err
		}
		target, err = tx.ReadSymlink(entry.Id)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)
}

func TestRmDirRequiresEmpty(t *testing.T) {
	fsys := newFixture(t)

	err := fsys.Tx(func(tx *transaction.Transaction) error {
		dirID, err := tx.CreateDir(tree.RootNodeId, "sub")
		if err != nil {
			return err
		}
		_, err = tx.CreateFile(dirID, "f", fs.FileTypeFile)
		return err
	})
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.RemoveDir(tree.RootNodeId, "sub")
		return err
	})
	require.Error(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.CreateDir(tree.RootNodeId, "empty")
		if err != nil {
			return err
		}
		_, err = tx.RemoveDir(tree.RootNodeId, "empty")
		return err
	})
	require.NoError(t, err)
}

func TestMountRoundTrip(t *testing.T) {
	s := storage.NewMapStorage(4096)
	fsys, err := transaction.Create(s)
	require.NoError(t, err)

	err = fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.CreateDir(tree.RootNodeId, "persisted")
		return err
	})
	require.NoError(t, err)

	reopened, err := transaction.Mount(s)
	require.NoError(t, err)

	err = reopened.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.FindEntry(tree.RootNodeId, "persisted")
		return err
	})
	require.NoError(t, err)
}
