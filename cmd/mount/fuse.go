// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"sync/atomic"
	"syscall"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/fs"
	"github.com/greinafs/greinafs/lib/fs/transaction"
	"github.com/greinafs/greinafs/lib/linux"
	"github.com/greinafs/greinafs/lib/tree"
)

// dirState is an open directory handle's snapshot of entries, taken
// at OpenDir time.
type dirState struct {
	entries []fs.DirEntry
}

// fileHandle identifies an open file by its NodeId; greinafs files
// need no per-handle state beyond that.
type fileHandle struct {
	id tree.NodeId
}

// greinafsFS adapts a transaction.Filesystem to fuseutil.FileSystem.
// NodeId and fuseops.InodeID coincide (both are 1-based uint64s, with
// 1 the root), so no translation table is needed.
type greinafsFS struct {
	fuseutil.NotImplementedFileSystem

	fsys     *transaction.Filesystem
	readOnly bool

	lastHandle  uint64
	dirHandles  typedsync.Map[fuseops.HandleID, *dirState]
	fileHandles typedsync.Map[fuseops.HandleID, *fileHandle]
}

func runFUSE(ctx context.Context, fsys *transaction.Filesystem, deviceName, mountpoint string, readOnly bool) error {
	gfs := &greinafsFS{fsys: fsys, readOnly: readOnly}
	cfg := &fuse.MountConfig{
		FSName:   deviceName,
		Subtype:  "greinafs",
		ReadOnly: readOnly,
	}
	return fuseMount(ctx, mountpoint, fuseutil.NewFileSystemServer(gfs), cfg)
}

// fuseMount runs the FUSE event loop until ctx is cancelled, then
// retries unmounting until the device is no longer busy.
func fuseMount(ctx context.Context, mountpoint string, server fuse.Server, cfg *fuse.MountConfig) error {
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		ShutdownOnNonError: true,
	})
	mounted := uint32(1)
	grp.Go("unmount", func(ctx context.Context) error {
		<-ctx.Done()
		var err error
		var gotNil bool
		for atomic.LoadUint32(&mounted) != 0 {
			if _err := fuse.Unmount(mountpoint); _err == nil {
				gotNil = true
			} else if !gotNil {
				err = _err
			}
		}
		if gotNil {
			return nil
		}
		return err
	})
	grp.Go("mount", func(ctx context.Context) error {
		defer atomic.StoreUint32(&mounted, 0)

		cfg.OpContext = ctx
		cfg.ErrorLogger = dlog.StdLogger(ctx, dlog.LogLevelError)
		cfg.DebugLogger = dlog.StdLogger(ctx, dlog.LogLevelDebug)

		mountHandle, err := fuse.Mount(mountpoint, server, cfg)
		if err != nil {
			return err
		}
		dlog.Infof(ctx, "mounted %q", mountpoint)
		return mountHandle.Join(dcontext.HardContext(ctx))
	})
	return grp.Wait()
}

func (gfs *greinafsFS) newHandle() fuseops.HandleID {
	return fuseops.HandleID(atomic.AddUint64(&gfs.lastHandle, 1))
}

func errno(err error) error {
	if err == nil {
		return nil
	}
	return ferrors.Errno(err)
}

func attrsFor(n fs.Node) fuseops.InodeAttributes {
	mode := uint32(linux.ModeFmtRegular | 0o644)
	switch n.FileType {
	case fs.FileTypeDir:
		mode = uint32(linux.ModeFmtDir | 0o755)
	case fs.FileTypeSymlink:
		mode = uint32(linux.ModeFmtSymlink | 0o777)
	}
	return fuseops.InodeAttributes{
		Size:  n.Size,
		Nlink: n.Links,
		Mode:  mode,
	}
}

func (gfs *greinafsFS) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	sb := gfs.fsys.Superblock()
	op.BlockSize = 4096
	op.IoSize = 4096
	op.Blocks = sb.BlockCount
	op.BlocksFree = gfs.fsys.Available()
	return nil
}

func (gfs *greinafsFS) LookUpInode(_ context.Context, op *fuseops.LookUpInodeOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		entry, err := tx.FindEntry(tree.NodeId(op.Parent), op.Name)
		if err != nil {
			return errno(err)
		}
		node, err := tx.ReadNode(entry.Id)
		if err != nil {
			return errno(err)
		}
		op.Entry = fuseops.ChildInodeEntry{
			Child:      fuseops.InodeID(entry.Id),
			Attributes: attrsFor(node),
		}
		return nil
	})
}

func (gfs *greinafsFS) GetInodeAttributes(_ context.Context, op *fuseops.GetInodeAttributesOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		node, err := tx.ReadNode(tree.NodeId(op.Inode))
		if err != nil {
			return errno(err)
		}
		op.Attributes = attrsFor(node)
		return nil
	})
}

func (gfs *greinafsFS) SetInodeAttributes(_ context.Context, op *fuseops.SetInodeAttributesOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		if op.Size != nil {
			if err := tx.TruncateFile(tree.NodeId(op.Inode), *op.Size); err != nil {
				return errno(err)
			}
		}
		node, err := tx.ReadNode(tree.NodeId(op.Inode))
		if err != nil {
			return errno(err)
		}
		op.Attributes = attrsFor(node)
		return nil
	})
}

func (gfs *greinafsFS) MkDir(_ context.Context, op *fuseops.MkDirOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		id, err := tx.CreateDir(tree.NodeId(op.Parent), op.Name)
		if err != nil {
			return errno(err)
		}
		node, err := tx.ReadNode(id)
		if err != nil {
			return errno(err)
		}
		op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(id), Attributes: attrsFor(node)}
		return nil
	})
}

func (gfs *greinafsFS) RmDir(_ context.Context, op *fuseops.RmDirOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.RemoveDir(tree.NodeId(op.Parent), op.Name)
		return errno(err)
	})
}

func (gfs *greinafsFS) CreateFile(_ context.Context, op *fuseops.CreateFileOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		id, err := tx.CreateFile(tree.NodeId(op.Parent), op.Name, fs.FileTypeFile)
		if err != nil {
			return errno(err)
		}
		node, err := tx.ReadNode(id)
		if err != nil {
			return errno(err)
		}
		op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(id), Attributes: attrsFor(node)}
		return nil
	})
}

func (gfs *greinafsFS) CreateLink(_ context.Context, op *fuseops.CreateLinkOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		if err := tx.LinkFile(tree.NodeId(op.Parent), tree.NodeId(op.Target), op.Name); err != nil {
			return errno(err)
		}
		node, err := tx.ReadNode(tree.NodeId(op.Target))
		if err != nil {
			return errno(err)
		}
		op.Entry = fuseops.ChildInodeEntry{Child: op.Target, Attributes: attrsFor(node)}
		return nil
	})
}

func (gfs *greinafsFS) CreateSymlink(_ context.Context, op *fuseops.CreateSymlinkOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		id, err := tx.CreateSymlink(tree.NodeId(op.Parent), op.Name, op.Target)
		if err != nil {
			return errno(err)
		}
		node, err := tx.ReadNode(id)
		if err != nil {
			return errno(err)
		}
		op.Entry = fuseops.ChildInodeEntry{Child: fuseops.InodeID(id), Attributes: attrsFor(node)}
		return nil
	})
}

func (gfs *greinafsFS) ReadSymlink(_ context.Context, op *fuseops.ReadSymlinkOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		target, err := tx.ReadSymlink(tree.NodeId(op.Inode))
		if err != nil {
			return errno(err)
		}
		op.Target = target
		return nil
	})
}

func (gfs *greinafsFS) Unlink(_ context.Context, op *fuseops.UnlinkOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		return errno(tx.UnlinkFile(tree.NodeId(op.Parent), op.Name))
	})
}

func (gfs *greinafsFS) Rename(_ context.Context, op *fuseops.RenameOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		return errno(tx.RenameEntry(
			tree.NodeId(op.OldParent), op.OldName,
			tree.NodeId(op.NewParent), op.NewName,
		))
	})
}

func (gfs *greinafsFS) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		entries, err := tx.ReadDir(tree.NodeId(op.Inode))
		if err != nil {
			return errno(err)
		}
		handle := gfs.newHandle()
		gfs.dirHandles.Store(handle, &dirState{entries: entries})
		op.Handle = handle
		return nil
	})
}

func (gfs *greinafsFS) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	state, ok := gfs.dirHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	for i, entry := range state.entries {
		if int64(i) < op.Offset {
			continue
		}
		dt := fuseutil.DT_File
		switch entry.FileType {
		case fs.FileTypeDir:
			dt = fuseutil.DT_Directory
		case fs.FileTypeSymlink:
			dt = fuseutil.DT_Link
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(entry.Id),
			Name:   entry.Name,
			Type:   dt,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (gfs *greinafsFS) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	if _, ok := gfs.dirHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (gfs *greinafsFS) OpenFile(_ context.Context, op *fuseops.OpenFileOp) error {
	handle := gfs.newHandle()
	gfs.fileHandles.Store(handle, &fileHandle{id: tree.NodeId(op.Inode)})
	op.Handle = handle
	op.KeepPageCache = true
	return nil
}

func (gfs *greinafsFS) ReadFile(_ context.Context, op *fuseops.ReadFileOp) error {
	h, ok := gfs.fileHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		n, err := tx.ReadFileAt(h.id, uint64(op.Offset), op.Dst)
		op.BytesRead = int(n)
		return errno(err)
	})
}

func (gfs *greinafsFS) WriteFile(_ context.Context, op *fuseops.WriteFileOp) error {
	h, ok := gfs.fileHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	return gfs.fsys.Tx(func(tx *transaction.Transaction) error {
		_, err := tx.WriteFileAt(h.id, uint64(op.Offset), op.Data)
		return errno(err)
	})
}

func (gfs *greinafsFS) ReleaseFileHandle(_ context.Context, op *fuseops.ReleaseFileHandleOp) error {
	if _, ok := gfs.fileHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (gfs *greinafsFS) Destroy() {}
