// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"io"
	"os"
	"syscall"

	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// FileStorage is a Storage backed by a single *os.File, one block per
// Size-byte slot starting at file offset 0.
type FileStorage struct {
	file *os.File
}

var _ Storage = (*FileStorage)(nil)

// Create creates (or truncates) the file at path and sizes it to hold
// exactly blockCount blocks.
func Create(path string, blockCount uint64) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Storage, err)
	}
	if err := f.Truncate(int64(blockCount) * block.Size); err != nil {
		f.Close()
		return nil, ferrors.Wrap(ferrors.Storage, err)
	}
	return &FileStorage{file: f}, nil
}

// Open opens an existing device file; its capacity is derived from
// its length.
func Open(path string) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Storage, err)
	}
	return &FileStorage{file: f}, nil
}

func (s *FileStorage) Close() error {
	return s.file.Close()
}

func (s *FileStorage) Capacity() uint64 {
	size, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0
	}
	return uint64(size) / block.Size
}

func (s *FileStorage) ReadAt(buf *block.Block, addr block.Addr) error {
	if uint64(addr) >= s.Capacity() {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	n, err := s.file.ReadAt(buf[:], int64(addr)*block.Size)
	if err != nil && err != io.EOF {
		return ferrors.Wrap(ferrors.Storage, err)
	}
	if n != block.Size {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	return nil
}

func (s *FileStorage) WriteAt(buf *block.Block, addr block.Addr) error {
	if uint64(addr) >= s.Capacity() {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	n, err := s.file.WriteAt(buf[:], int64(addr)*block.Size)
	if err != nil {
		return ferrors.Wrap(ferrors.Storage, err)
	}
	if n != block.Size {
		return ferrors.Wrap(ferrors.Storage, syscall.EIO)
	}
	return nil
}
