// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"errors"

	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// errOverflow is raised internally when a node-level mutation would
// exceed block capacity; the engine always checks CanInsert first, so
// callers outside this package never observe it.
var errOverflow = errors.New("tree: node overflow")

// Branch is the branch-node view over a tree block: height > 0,
// items are routing entries (key, child address).
type Branch struct {
	Buf *block.Block
}

// FormatBranch initializes b as an empty branch node of the given
// height.
func FormatBranch(b *block.Block, height uint16) Branch {
	writeHeader(b, Header{Height: height, ItemCount: 0, DataOffset: block.Size})
	return Branch{Buf: b}
}

func (n Branch) Header() Header { return readHeader(n.Buf) }
func (n Branch) Height() uint16 { return n.Header().Height }
func (n Branch) ItemCount() int { return int(n.Header().ItemCount) }

func (n Branch) itemOffset(i int) int { return HeaderSize + i*BranchItemSize }

func (n Branch) Item(i int) BranchItem {
	off := n.itemOffset(i)
	return unmarshalBranchItem(n.Buf[off : off+BranchItemSize])
}

func (n Branch) setItem(i int, it BranchItem) {
	off := n.itemOffset(i)
	it.marshalInto(n.Buf[off : off+BranchItemSize])
}

func (n Branch) setItemCount(c int) {
	h := n.Header()
	h.ItemCount = uint16(c)
	writeHeader(n.Buf, h)
}

func (n Branch) UsedSpace() int { return n.ItemCount() * BranchItemSize }
func (n Branch) FreeSpace() int { return NodeCapacity - n.UsedSpace() }
func (n Branch) IsDeficient() bool {
	return n.UsedSpace() < DeficiencyThreshold
}

// LowerBound returns the key of the node's first item; panics if
// empty (only the transient, about-to-be-populated root may be
// empty).
func (n Branch) LowerBound() Key {
	if n.ItemCount() == 0 {
		panic("tree: lower bound of empty branch node")
	}
	return n.Item(0).Key
}

func (n Branch) CanInsert(nItems int) bool {
	return n.FreeSpace() >= nItems*BranchItemSize
}

// insertionIdx returns the first index whose item key is > key (the
// position a new item with this key would be inserted at, were it
// absent).
func (n Branch) insertionIdx(key Key) int {
	lo, hi := 0, n.ItemCount()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.Item(mid).Key.Compare(key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ChildIdxFor returns the index of the child whose key interval
// contains key: the greatest item with key' <= key, or 0 if none.
func (n Branch) ChildIdxFor(key Key) int {
	idx := n.insertionIdx(key) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (n Branch) ChildFor(key Key) BranchItem {
	return n.Item(n.ChildIdxFor(key))
}

func (n Branch) shiftRight(from int) {
	count := n.ItemCount()
	for i := count; i > from; i-- {
		n.setItem(i, n.Item(i-1))
	}
}

func (n Branch) shiftLeft(from int) {
	count := n.ItemCount()
	for i := from; i < count-1; i++ {
		n.setItem(i, n.Item(i+1))
	}
}

// Insert adds a new routing entry. It is an engine-level bug (not a
// user-facing condition) to call this when !CanInsert(1); ferrors.Occupied
// is returned if the key is already present.
func (n Branch) Insert(key Key, child block.Addr) error {
	if !n.CanInsert(1) {
		return errOverflow
	}
	idx := n.insertionIdx(key)
	if idx > 0 && n.Item(idx-1).Key.Compare(key) == 0 {
		return ferrors.New(ferrors.Occupied)
	}
	count := n.ItemCount()
	n.shiftRight(idx)
	n.setItem(idx, BranchItem{Key: key, Child: child})
	n.setItemCount(count + 1)
	return nil
}

func (n Branch) RemoveAt(idx int) {
	count := n.ItemCount()
	n.shiftLeft(idx)
	n.setItemCount(count - 1)
}

func (n Branch) SetKeyAt(idx int, key Key) {
	it := n.Item(idx)
	it.Key = key
	n.setItem(idx, it)
}

// Split moves the upper half of n's items into right, which must
// already be formatted as an empty branch of the same height.
func (n Branch) Split(right Branch) {
	count := n.ItemCount()
	mid := count / 2
	moved := count - mid
	for i := 0; i < moved; i++ {
		right.setItem(i, n.Item(mid+i))
	}
	right.setItemCount(moved)
	n.setItemCount(mid)
}

// itemOccupancyThresh is the minimum item count a non-root branch
// must retain to stay non-deficient, derived from the byte threshold.
func itemOccupancyThresh() int {
	return (DeficiencyThreshold + BranchItemSize - 1) / BranchItemSize
}

// RotateLeft moves items from right's front into n's back so that n
// stops being deficient, without making right deficient. Returns
// false if no such move exists (caller should merge instead).
func (n Branch) RotateLeft(right Branch) bool {
	thresh := itemOccupancyThresh()
	need := thresh - n.ItemCount()
	if need <= 0 {
		return true
	}
	spare := right.ItemCount() - thresh
	if spare <= 0 {
		return false
	}
	take := need
	if take > spare {
		take = spare
	}
	if take <= 0 {
		return false
	}
	nCount := n.ItemCount()
	for i := 0; i < take; i++ {
		n.setItem(nCount+i, right.Item(i))
	}
	n.setItemCount(nCount + take)
	rCount := right.ItemCount()
	for i := 0; i < rCount-take; i++ {
		right.setItem(i, right.Item(i+take))
	}
	right.setItemCount(rCount - take)
	return true
}

// RotateRight moves items from left's back into n's front.
func (n Branch) RotateRight(left Branch) bool {
	thresh := itemOccupancyThresh()
	need := thresh - n.ItemCount()
	if need <= 0 {
		return true
	}
	spare := left.ItemCount() - thresh
	if spare <= 0 {
		return false
	}
	take := need
	if take > spare {
		take = spare
	}
	if take <= 0 {
		return false
	}
	lCount := left.ItemCount()
	nCount := n.ItemCount()
	n.shiftRightBy(take, nCount)
	for i := 0; i < take; i++ {
		n.setItem(i, left.Item(lCount-take+i))
	}
	n.setItemCount(nCount + take)
	left.setItemCount(lCount - take)
	return true
}

func (n Branch) shiftRightBy(by, count int) {
	for i := count - 1; i >= 0; i-- {
		n.setItem(i+by, n.Item(i))
	}
}

// Merge absorbs right's items into n (left sibling absorbs right).
func (n Branch) Merge(right Branch) error {
	nCount := n.ItemCount()
	rCount := right.ItemCount()
	if !n.CanInsert(rCount) {
		return errOverflow
	}
	for i := 0; i < rCount; i++ {
		n.setItem(nCount+i, right.Item(i))
	}
	n.setItemCount(nCount + rCount)
	return nil
}
