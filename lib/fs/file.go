// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
	"github.com/greinafs/greinafs/lib/tree"
)

// CreateFile creates a new regular file (or, when called by Symlink,
// a symlink placeholder) named name under parent.
func CreateFile(s storage.Storage, alloc allocator.Allocator, sb *Superblock, parent tree.NodeId, ft FileType, name string) (tree.NodeId, error) {
	n, err := validateName(name)
	if err != nil {
		return tree.NullNodeId, err
	}
	id, err := CreateNode(s, alloc, sb, ft, 1)
	if err != nil {
		return tree.NullNodeId, err
	}
	if err := createDirEntry(s, alloc, sb, parent, ft, id, n); err != nil {
		return tree.NullNodeId, err
	}
	return id, nil
}

// ReadFileAt reads into buf starting at offset, returning the number
// of bytes read. Reads past the last extent within the file's
// recorded size return zeroes (sparse holes); reads at or past the
// recorded size return 0.
func ReadFileAt(s storage.Storage, sb *Superblock, id tree.NodeId, offset uint64, buf []byte) (uint64, error) {
	node, err := ReadNode(s, sb, id)
	if err != nil {
		return 0, err
	}

	if offset >= node.Size {
		return 0, nil
	}

	avail := node.Size - offset
	toRead := avail
	if uint64(len(buf)) < toRead {
		toRead = uint64(len(buf))
	}
	buf = buf[:toRead]

	var read uint64
	var blk block.Block

	for len(buf) > 0 {
		m, ok, err := readExtent(s, sb, id, offset)
		if err != nil {
			return read, err
		}
		if ok {
			availInExt := m.End() - offset
			remainInExt := availInExt
			if uint64(len(buf)) < remainInExt {
				remainInExt = uint64(len(buf))
			}

			offsetInExt := offset - m.Start
			blockIdx := offsetInExt / block.Size
			offsetInBlock := offsetInExt % block.Size

			for remainInExt != 0 {
				addr := block.Addr(uint64(m.Inner.Start) + blockIdx)

				remainInBlock := uint64(block.Size) - offsetInBlock
				chunk := remainInBlock
				if remainInExt < chunk {
					chunk = remainInExt
				}

				if err := s.ReadAt(&blk, addr); err != nil {
					return read, err
				}

				copy(buf[:chunk], blk[offsetInBlock:offsetInBlock+chunk])

				buf = buf[chunk:]
				read += chunk
				offset += chunk
				remainInExt -= chunk
				offsetInBlock = 0
				blockIdx++
			}
		} else {
			offsetInBlock := offset % block.Size
			remainInBlock := uint64(block.Size) - offsetInBlock
			chunk := remainInBlock
			if uint64(len(buf)) < chunk {
				chunk = uint64(len(buf))
			}
			for i := uint64(0); i < chunk; i++ {
				buf[i] = 0
			}
			buf = buf[chunk:]
			read += chunk
			offset += chunk
		}
	}

	return read, nil
}

// WriteFileAt writes buf at offset, lazily allocating backing extents
// and growing the file's recorded size if the write extends past it.
func WriteFileAt(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId, offset uint64, buf []byte) (uint64, error) {
	node, err := ReadNode(s, sb, id)
	if err != nil {
		return 0, err
	}

	var written uint64
	var blk block.Block

	for len(buf) > 0 {
		m, err := ensureExtent(s, alloc, sb, id, offset, uint64(len(buf)))
		if err != nil {
			return written, err
		}

		availInExt := m.End() - offset
		remainInExt := availInExt
		if uint64(len(buf)) < remainInExt {
			remainInExt = uint64(len(buf))
		}

		offsetInExt := offset - m.Start
		blockIdx := offsetInExt / block.Size
		offsetInBlock := offsetInExt % block.Size

		for remainInExt != 0 {
			addr := block.Addr(uint64(m.Inner.Start) + blockIdx)

			remainInBlock := uint64(block.Size) - offsetInBlock
			chunk := remainInBlock
			if remainInExt < chunk {
				chunk = remainInExt
			}

			if chunk != uint64(block.Size) {
				if err := s.ReadAt(&blk, addr); err != nil {
					return written, err
				}
			}

			copy(blk[offsetInBlock:offsetInBlock+chunk], buf[:chunk])

			if err := s.WriteAt(&blk, addr); err != nil {
				return written, err
			}

			buf = buf[chunk:]
			written += chunk
			offset += chunk
			remainInExt -= chunk
			offsetInBlock = 0
			blockIdx++
		}
	}

	if offset > node.Size {
		node.Size = offset
		if err := WriteNode(s, alloc, sb, id, node); err != nil {
			return written, err
		}
	}

	return written, nil
}

// TruncateFile resizes a regular file to size, deallocating any
// extents wholly beyond the new size and zeroing the tail of the
// extent straddling it.
func TruncateFile(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId, size uint64) error {
	node, err := ReadNode(s, sb, id)
	if err != nil {
		return err
	}
	if node.FileType != FileTypeFile {
		return ferrors.New(ferrors.NotFile)
	}

	if size < node.Size {
		if err := truncateExtents(s, alloc, sb, id, size); err != nil {
			return err
		}

		remain := size % block.Size
		if remain != 0 {
			if m, ok, err := readExtent(s, sb, id, size); err != nil {
				return err
			} else if ok {
				addr := block.Addr(uint64(m.Inner.Start) + (size-m.Start)/block.Size)
				if err := zeroBlockTail(s, addr, remain); err != nil {
					return err
				}
			}
		}
	}

	node.Size = size
	return WriteNode(s, alloc, sb, id, node)
}

// truncateExtents removes and deallocates every extent record that
// starts at or beyond size.
func truncateExtents(s storage.Storage, alloc allocator.Allocator, sb *Superblock, id tree.NodeId, size uint64) error {
	key := tree.MaxKeyFor(id, tree.DataTypeExtent)
	for {
		k, data, ok, err := tree.GetLE(s, sb.RootAddr, key)
		if err != nil {
			return err
		}
		if !ok || k.Id != id || k.Datatype != tree.DataTypeExtent {
			return nil
		}
		if k.Offset < size {
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
		if err := alloc.Deallocate(ext.Start, ext.Len); err != nil {
			return err
		}

		if k.Offset == 0 {
			return nil
		}
		key = tree.ExtentKey(id, k.Offset-1)
	}
}

func zeroBlockTail(s storage.Storage, addr block.Addr, remain uint64) error {
	var blk block.Block
	if err := s.ReadAt(&blk, addr); err != nil {
		return err
	}
	for i := remain; i < block.Size; i++ {
		blk[i] = 0
	}
	return s.WriteAt(&blk, addr)
}
