// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/block/allocator"
	"github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// Get descends from root and returns the payload stored under key, if
// present.
func Get(s storage.Storage, root block.Addr, key Key) ([]byte, bool, error) {
	addr := root
	for {
		var buf block.Block
		if err := s.ReadAt(&buf, addr); err != nil {
			return nil, false, err
		}
		h := readHeader(&buf)
		if h.IsLeaf() {
			data, ok := Leaf{Buf: &buf}.Get(key)
			return data, ok, nil
		}
		b := Branch{Buf: &buf}
		if b.ItemCount() == 0 {
			return nil, false, nil
		}
		addr = b.ChildFor(key).Child
	}
}

// GetLE descends from root and returns the greatest (key, payload)
// with key' <= key.
func GetLE(s storage.Storage, root block.Addr, key Key) (Key, []byte, bool, error) {
	addr := root
	for {
		var buf block.Block
		if err := s.ReadAt(&buf, addr); err != nil {
			return Key{}, nil, false, err
		}
		h := readHeader(&buf)
		if h.IsLeaf() {
			k, data, ok := Leaf{Buf: &buf}.GetLE(key)
			return k, data, ok, nil
		}
		b := Branch{Buf: &buf}
		if b.ItemCount() == 0 {
			return Key{}, nil, false, nil
		}
		addr = b.ChildFor(key).Child
	}
}

type insertOutcome struct {
	lowerBoundChanged bool
	newLowerBound     Key
	split             bool
	splitLB           Key
	splitAddr         block.Addr
}

func insertRecursive(s storage.Storage, alloc allocator.Allocator, addr block.Addr, key Key, data []byte) (insertOutcome, error) {
	var buf block.Block
	if err := s.ReadAt(&buf, addr); err != nil {
		return insertOutcome{}, err
	}
	h := readHeader(&buf)

	if h.IsLeaf() {
		leaf := Leaf{Buf: &buf}
		if _, exists := leaf.Get(key); exists {
			return insertOutcome{}, ferrors.New(ferrors.Occupied)
		}
		if leaf.CanInsert(1, len(data)) {
			if err := leaf.Insert(key, data); err != nil {
				return insertOutcome{}, err
			}
			if err := s.WriteAt(&buf, addr); err != nil {
				return insertOutcome{}, err
			}
			var out insertOutcome
			if leaf.LowerBound().Compare(key) == 0 {
				out.lowerBoundChanged = true
				out.newLowerBound = key
			}
			return out, nil
		}
		// overflow: split, then insert into whichever half owns the key
		rightAddr, err := alloc.Allocate(1)
		if err != nil {
			return insertOutcome{}, err
		}
		var rightBuf block.Block
		right := FormatLeaf(&rightBuf)
		leaf.Split(right)

		var out insertOutcome
		if key.Compare(right.LowerBound()) < 0 {
			if err := leaf.Insert(key, data); err != nil {
				return insertOutcome{}, err
			}
			if leaf.LowerBound().Compare(key) == 0 {
				out.lowerBoundChanged = true
				out.newLowerBound = key
			}
		} else {
			if err := right.Insert(key, data); err != nil {
				return insertOutcome{}, err
			}
		}
		if err := s.WriteAt(&buf, addr); err != nil {
			return insertOutcome{}, err
		}
		if err := s.WriteAt(&rightBuf, rightAddr); err != nil {
			return insertOutcome{}, err
		}
		out.split = true
		out.splitLB = right.LowerBound()
		out.splitAddr = rightAddr
		return out, nil
	}

	branch := Branch{Buf: &buf}
	idx := branch.ChildIdxFor(key)
	child := branch.Item(idx)
	childOut, err := insertRecursive(s, alloc, child.Child, key, data)
	if err != nil {
		return insertOutcome{}, err
	}

	var out insertOutcome
	wrote := false
	if childOut.lowerBoundChanged {
		branch.SetKeyAt(idx, childOut.newLowerBound)
		wrote = true
		if idx == 0 {
			out.lowerBoundChanged = true
			out.newLowerBound = childOut.newLowerBound
		}
	}
	if childOut.split {
		if branch.CanInsert(1) {
			if err := branch.Insert(childOut.splitLB, childOut.splitAddr); err != nil {
				return insertOutcome{}, err
			}
			wrote = true
		} else {
			rightAddr, err := alloc.Allocate(1)
			if err != nil {
				return insertOutcome{}, err
			}
			var rightBuf block.Block
			right := FormatBranch(&rightBuf, branch.Height())
			branch.Split(right)

			if childOut.splitLB.Compare(right.LowerBound()) < 0 {
				if err := branch.Insert(childOut.splitLB, childOut.splitAddr); err != nil {
					return insertOutcome{}, err
				}
			} else {
				if err := right.Insert(childOut.splitLB, childOut.splitAddr); err != nil {
					return insertOutcome{}, err
				}
			}
			if err := s.WriteAt(&rightBuf, rightAddr); err != nil {
				return insertOutcome{}, err
			}
			out.split = true
			out.splitLB = right.LowerBound()
			out.splitAddr = rightAddr
			wrote = true
		}
	}
	if wrote {
		if err := s.WriteAt(&buf, addr); err != nil {
			return insertOutcome{}, err
		}
	}
	return out, nil
}

// Insert inserts key -> data, erroring with ferrors.Occupied if key is
// already present or ferrors.DataTooLong if data exceeds
// MaxPayloadSize.
func Insert(s storage.Storage, alloc allocator.Allocator, root *block.Addr, key Key, data []byte) error {
	if len(data) > MaxPayloadSize {
		return ferrors.New(ferrors.DataTooLong)
	}
	out, err := insertRecursive(s, alloc, *root, key, data)
	if err != nil {
		return err
	}
	if out.split {
		var oldBuf block.Block
		if err := s.ReadAt(&oldBuf, *root); err != nil {
			return err
		}
		oldHeader := readHeader(&oldBuf)
		var oldLB Key
		if oldHeader.IsLeaf() {
			oldLB = Leaf{Buf: &oldBuf}.LowerBound()
		} else {
			oldLB = Branch{Buf: &oldBuf}.LowerBound()
		}

		newRootAddr, err := alloc.Allocate(1)
		if err != nil {
			return err
		}
		var newRootBuf block.Block
		newRoot := FormatBranch(&newRootBuf, oldHeader.Height+1)
		if err := newRoot.Insert(oldLB, *root); err != nil {
			return err
		}
		if err := newRoot.Insert(out.splitLB, out.splitAddr); err != nil {
			return err
		}
		if err := s.WriteAt(&newRootBuf, newRootAddr); err != nil {
			return err
		}
		*root = newRootAddr
	}
	return nil
}

// TryInsert is Insert but treats an already-present key as success
// (idempotent upsert-if-absent).
func TryInsert(s storage.Storage, alloc allocator.Allocator, root *block.Addr, key Key, data []byte) error {
	err := Insert(s, alloc, root, key, data)
	if err == nil {
		return nil
	}
	var fe *ferrors.Error
	if asFerrors(err, &fe) && fe.Kind == ferrors.Occupied {
		return nil
	}
	return err
}

func asFerrors(err error, target **ferrors.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if fe, ok := err.(*ferrors.Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type removeOutcome struct {
	lowerBoundChanged bool
	newLowerBound     Key
	deficient         bool
}

func removeRecursive(s storage.Storage, alloc allocator.Allocator, addr block.Addr, key Key) ([]byte, bool, removeOutcome, error) {
	var buf block.Block
	if err := s.ReadAt(&buf, addr); err != nil {
		return nil, false, removeOutcome{}, err
	}
	h := readHeader(&buf)

	if h.IsLeaf() {
		leaf := Leaf{Buf: &buf}
		data, ok := leaf.Remove(key)
		if !ok {
			return nil, false, removeOutcome{}, nil
		}
		if err := s.WriteAt(&buf, addr); err != nil {
			return nil, false, removeOutcome{}, err
		}
		var out removeOutcome
		out.deficient = leaf.ItemCount() > 0 && leaf.IsDeficient()
		if leaf.ItemCount() > 0 {
			out.lowerBoundChanged = true
			out.newLowerBound = leaf.LowerBound()
		}
		return data, true, out, nil
	}

	branch := Branch{Buf: &buf}
	idx := branch.ChildIdxFor(key)
	child := branch.Item(idx)
	data, found, childOut, err := removeRecursive(s, alloc, child.Child, key)
	if err != nil || !found {
		return data, found, removeOutcome{}, err
	}

	wrote := false
	var out removeOutcome
	if childOut.lowerBoundChanged && childOut.newLowerBound.Compare(child.Key) != 0 {
		branch.SetKeyAt(idx, childOut.newLowerBound)
		wrote = true
		if idx == 0 {
			out.lowerBoundChanged = true
			out.newLowerBound = childOut.newLowerBound
		}
	}

	if childOut.deficient {
		merged, err := repairDeficientChild(s, alloc, branch, idx)
		if err != nil {
			return nil, false, removeOutcome{}, err
		}
		wrote = true
		if merged {
			// the routing entry at idx+1 (or idx, see repair) was
			// removed; our own item 0 never moves as a result of a
			// merge among children at idx>0, but if idx==0 merged
			// with its right sibling, item 0 is still present
			// (it's the surviving left child's entry), so no
			// lower-bound change here.
		}
	}

	out.deficient = branch.ItemCount() > 0 && branch.IsDeficient()
	if wrote {
		if err := s.WriteAt(&buf, addr); err != nil {
			return nil, false, removeOutcome{}, err
		}
	}
	return data, true, out, nil
}

// repairDeficientChild repairs the deficient child routed to by item
// idx of branch n, by borrowing from a sibling or merging with one.
// It reports whether a merge (which removes a routing entry) occurred.
func repairDeficientChild(s storage.Storage, alloc allocator.Allocator, n Branch, idx int) (bool, error) {
	child := n.Item(idx)
	var childBuf block.Block
	if err := s.ReadAt(&childBuf, child.Child); err != nil {
		return false, err
	}
	childHeight := readHeader(&childBuf).Height

	if idx+1 < n.ItemCount() {
		rightItem := n.Item(idx + 1)
		var rightBuf block.Block
		if err := s.ReadAt(&rightBuf, rightItem.Child); err != nil {
			return false, err
		}
		ok, newRightLB, err := tryRotateLeft(childHeight, &childBuf, &rightBuf)
		if err != nil {
			return false, err
		}
		if ok {
			if err := s.WriteAt(&childBuf, child.Child); err != nil {
				return false, err
			}
			if err := s.WriteAt(&rightBuf, rightItem.Child); err != nil {
				return false, err
			}
			n.SetKeyAt(idx+1, newRightLB)
			return false, nil
		}
	}
	if idx > 0 {
		leftItem := n.Item(idx - 1)
		var leftBuf block.Block
		if err := s.ReadAt(&leftBuf, leftItem.Child); err != nil {
			return false, err
		}
		ok, err := tryRotateRight(childHeight, &childBuf, &leftBuf)
		if err != nil {
			return false, err
		}
		if ok {
			if err := s.WriteAt(&childBuf, child.Child); err != nil {
				return false, err
			}
			if err := s.WriteAt(&leftBuf, leftItem.Child); err != nil {
				return false, err
			}
			n.SetKeyAt(idx, lowerBoundOf(childHeight, &childBuf))
			return false, nil
		}
	}

	// merge: prefer merging child with its right sibling, else left.
	if idx+1 < n.ItemCount() {
		rightItem := n.Item(idx + 1)
		var rightBuf block.Block
		if err := s.ReadAt(&rightBuf, rightItem.Child); err != nil {
			return false, err
		}
		if err := mergeInto(childHeight, &childBuf, &rightBuf); err != nil {
			return false, err
		}
		if err := s.WriteAt(&childBuf, child.Child); err != nil {
			return false, err
		}
		if err := alloc.Deallocate(rightItem.Child, 1); err != nil {
			return false, err
		}
		n.RemoveAt(idx + 1)
		return true, nil
	}
	if idx > 0 {
		leftItem := n.Item(idx - 1)
		var leftBuf block.Block
		if err := s.ReadAt(&leftBuf, leftItem.Child); err != nil {
			return false, err
		}
		if err := mergeInto(childHeight, &leftBuf, &childBuf); err != nil {
			return false, err
		}
		if err := s.WriteAt(&leftBuf, leftItem.Child); err != nil {
			return false, err
		}
		if err := alloc.Deallocate(child.Child, 1); err != nil {
			return false, err
		}
		n.RemoveAt(idx)
		return true, nil
	}
	// only child; nothing to repair with (root-collapse handles this
	// one level up).
	return false, nil
}

func tryRotateLeft(height uint16, leftBuf, rightBuf *block.Block) (bool, Key, error) {
	if height == 0 {
		left, right := Leaf{Buf: leftBuf}, Leaf{Buf: rightBuf}
		if !left.RotateLeft(right) {
			return false, Key{}, nil
		}
		return true, right.LowerBound(), nil
	}
	left, right := Branch{Buf: leftBuf}, Branch{Buf: rightBuf}
	if !left.RotateLeft(right) {
		return false, Key{}, nil
	}
	return true, right.LowerBound(), nil
}

func tryRotateRight(height uint16, rightBuf, leftBuf *block.Block) (bool, error) {
	if height == 0 {
		right, left := Leaf{Buf: rightBuf}, Leaf{Buf: leftBuf}
		return right.RotateRight(left), nil
	}
	right, left := Branch{Buf: rightBuf}, Branch{Buf: leftBuf}
	return right.RotateRight(left), nil
}

func mergeInto(height uint16, leftBuf, rightBuf *block.Block) error {
	if height == 0 {
		return Leaf{Buf: leftBuf}.Merge(Leaf{Buf: rightBuf})
	}
	return Branch{Buf: leftBuf}.Merge(Branch{Buf: rightBuf})
}

func lowerBoundOf(height uint16, buf *block.Block) Key {
	if height == 0 {
		return Leaf{Buf: buf}.LowerBound()
	}
	return Branch{Buf: buf}.LowerBound()
}

// Remove removes key, returning its payload if it was present.
func Remove(s storage.Storage, alloc allocator.Allocator, root *block.Addr, key Key) ([]byte, bool, error) {
	data, found, _, err := removeRecursive(s, alloc, *root, key)
	if err != nil || !found {
		return data, found, err
	}

	var buf block.Block
	if err := s.ReadAt(&buf, *root); err != nil {
		return data, found, err
	}
	h := readHeader(&buf)
	if !h.IsLeaf() {
		branch := Branch{Buf: &buf}
		if branch.ItemCount() == 1 {
			onlyChild := branch.Item(0).Child
			if err := alloc.Deallocate(*root, 1); err != nil {
				return data, found, err
			}
			*root = onlyChild
		}
	}
	return data, found, nil
}
