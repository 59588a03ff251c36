// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ferrors is the single flat error taxonomy shared by the
// storage, allocator, tree, and filesystem-object layers, and its
// mapping onto POSIX errno at the adapter boundary.
package ferrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind identifies which of the storage/allocator/tree/domain error
// families an Error belongs to.
type Kind int

const (
	// Storage: underlying device I/O failure; Err carries the platform errno.
	Storage Kind = iota

	// Allocator
	NoSpace
	AddrOutOfBounds
	NotAllocated

	// Tree
	Occupied
	DataTooLong
	Uninterpretable

	// Domain
	NodeNotFound
	NodeExists
	InvalidName
	DirEntryNotFound
	DirEntryExists
	DirNotEmpty
	IsDir
	NotDir
	InvalidMove
	NotSymlink
	NotFile
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage error"
	case NoSpace:
		return "no space left on device"
	case AddrOutOfBounds:
		return "block address out of bounds"
	case NotAllocated:
		return "block range not allocated"
	case Occupied:
		return "key already occupied"
	case DataTooLong:
		return "value exceeds maximum item payload size"
	case Uninterpretable:
		return "block cannot be decoded"
	case NodeNotFound:
		return "node not found"
	case NodeExists:
		return "node already exists"
	case InvalidName:
		return "invalid name"
	case DirEntryNotFound:
		return "directory entry not found"
	case DirEntryExists:
		return "directory entry already exists"
	case DirNotEmpty:
		return "directory not empty"
	case IsDir:
		return "is a directory"
	case NotDir:
		return "not a directory"
	case InvalidMove:
		return "invalid move"
	case NotSymlink:
		return "not a symlink"
	case NotFile:
		return "not a regular file"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type for all four families. Err, when
// non-nil, is the wrapped cause (e.g. the storage-level errno, or a
// lower-layer *Error bubbled up unchanged).
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ferrors.New(Kind)) match on Kind alone,
// ignoring the wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// Errno maps an Error to the POSIX errno surfaced at the adapter
// boundary, per the error handling design: everything not explicitly
// listed (including Uninterpretable, NodeNotFound, and allocator
// misuse) maps to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if !errors.As(err, &e) {
		return syscall.EIO
	}
	switch e.Kind {
	case DirEntryNotFound:
		return syscall.ENOENT
	case DirEntryExists:
		return syscall.EEXIST
	case DirNotEmpty:
		return syscall.ENOTEMPTY
	case IsDir:
		return syscall.EISDIR
	case NotDir:
		return syscall.ENOTDIR
	case InvalidName, InvalidMove, NotSymlink, NotFile:
		return syscall.EINVAL
	case NoSpace:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}
