// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package tree

import (
	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

// Leaf is the leaf-node view over a tree block: height == 0, items
// reference variable-length payloads stored in a data heap growing
// downward from the block tail.
type Leaf struct {
	Buf *block.Block
}

// FormatLeaf initializes b as an empty leaf node.
func FormatLeaf(b *block.Block) Leaf {
	writeHeader(b, Header{Height: 0, ItemCount: 0, DataOffset: block.Size})
	return Leaf{Buf: b}
}

func (n Leaf) Header() Header { return readHeader(n.Buf) }
func (n Leaf) ItemCount() int { return int(n.Header().ItemCount) }

func (n Leaf) itemOffset(i int) int { return HeaderSize + i*LeafItemSize }

func (n Leaf) Item(i int) LeafItem {
	off := n.itemOffset(i)
	return unmarshalLeafItem(n.Buf[off : off+LeafItemSize])
}

func (n Leaf) setItem(i int, it LeafItem) {
	off := n.itemOffset(i)
	it.marshalInto(n.Buf[off : off+LeafItemSize])
}

func (n Leaf) setItemCount(c int) {
	h := n.Header()
	h.ItemCount = uint16(c)
	writeHeader(n.Buf, h)
}

func (n Leaf) payload(it LeafItem) []byte {
	return n.Buf[it.DataOffset : it.DataOffset+it.DataSize]
}

func (n Leaf) UsedSpace() int {
	h := n.Header()
	return int(h.ItemCount)*LeafItemSize + (block.Size - int(h.DataOffset))
}

func (n Leaf) FreeSpace() int { return NodeCapacity - n.UsedSpace() }
func (n Leaf) IsDeficient() bool {
	return n.UsedSpace() < DeficiencyThreshold
}

func (n Leaf) LowerBound() Key {
	if n.ItemCount() == 0 {
		panic("tree: lower bound of empty leaf node")
	}
	return n.Item(0).Key
}

func (n Leaf) CanInsert(nItems, payloadBytes int) bool {
	return n.FreeSpace() >= nItems*LeafItemSize+payloadBytes
}

// itemIdx returns the index of the item with this exact key, or -1.
func (n Leaf) itemIdx(key Key) int {
	count := n.ItemCount()
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		if n.Item(mid).Key.Compare(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < count && n.Item(lo).Key.Compare(key) == 0 {
		return lo
	}
	return -1
}

// insertionIdx returns the first index whose item key is > key.
func (n Leaf) insertionIdx(key Key) int {
	count := n.ItemCount()
	lo, hi := 0, count
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

// Get returns the payload stored under key, and whether it was
// present.
func (n Leaf) Get(key Key) ([]byte, bool) {
	idx := n.itemIdx(key)
	if idx < 0 {
		return nil, false
	}
	it := n.Item(idx)
	return append([]byte(nil), n.payload(it)...), true
}

// GetLE returns the greatest item with key' <= key.
func (n Leaf) GetLE(key Key) (Key, []byte, bool) {
	idx := n.insertionIdx(key) - 1
	if idx < 0 {
		return Key{}, nil, false
	}
	it := n.Item(idx)
	return it.Key, append([]byte(nil), n.payload(it)...), true
}

// Insert adds key -> data. Returns ferrors.Occupied if key is already
// present, errOverflow if there isn't room (an engine-level bug: the
// engine must always split before this is reached).
func (n Leaf) Insert(key Key, data []byte) error {
	if !n.CanInsert(1, len(data)) {
		return errOverflow
	}
	idx := n.insertionIdx(key)
	if idx > 0 && n.Item(idx-1).Key.Compare(key) == 0 {
		return ferrors.New(ferrors.Occupied)
	}
	h := n.Header()
	newDataOffset := h.DataOffset - uint16(len(data))
	copy(n.Buf[newDataOffset:h.DataOffset], data)

	count := int(h.ItemCount)
	for i := count; i > idx; i-- {
		n.setItem(i, n.Item(i-1))
	}
	n.setItem(idx, LeafItem{Key: key, DataOffset: newDataOffset, DataSize: uint16(len(data))})

	h.ItemCount = uint16(count + 1)
	h.DataOffset = newDataOffset
	writeHeader(n.Buf, h)
	return nil
}

// RemoveAt removes the item at idx, compacting the data heap.
func (n Leaf) RemoveAt(idx int) {
	removed := n.Item(idx)
	h := n.Header()

	src := int(h.DataOffset)
	dst := src + int(removed.DataSize)
	length := int(removed.DataOffset) - src
	if length > 0 {
		copy(n.Buf[dst:dst+length], n.Buf[src:src+length])
	}

	count := int(h.ItemCount)
	for i := 0; i < count; i++ {
		if i == idx {
			continue
		}
		it := n.Item(i)
		if it.DataOffset <= removed.DataOffset {
			it.DataOffset += removed.DataSize
			n.setItem(i, it)
		}
	}
	for i := idx; i < count-1; i++ {
		n.setItem(i, n.Item(i+1))
	}

	h.ItemCount = uint16(count - 1)
	h.DataOffset += removed.DataSize
	writeHeader(n.Buf, h)
}

// Remove removes key if present, returning its payload.
func (n Leaf) Remove(key Key) ([]byte, bool) {
	idx := n.itemIdx(key)
	if idx < 0 {
		return nil, false
	}
	it := n.Item(idx)
	data := append([]byte(nil), n.payload(it)...)
	n.RemoveAt(idx)
	return data, true
}

func (n Leaf) takeFromFront(donor Leaf, count int) {
	for i := 0; i < count; i++ {
		it := donor.Item(0)
		data := append([]byte(nil), donor.payload(it)...)
		donor.RemoveAt(0)
		if err := n.Insert(it.Key, data); err != nil {
			panic("tree: leaf rotate failed: " + err.Error())
		}
	}
}

func (n Leaf) takeFromBack(donor Leaf, count int) {
	for i := 0; i < count; i++ {
		last := donor.ItemCount() - 1
		it := donor.Item(last)
		data := append([]byte(nil), donor.payload(it)...)
		donor.RemoveAt(last)
		if err := n.Insert(it.Key, data); err != nil {
			panic("tree: leaf rotate failed: " + err.Error())
		}
	}
}

// RotateLeft moves the minimum number of items from right's front
// into n's back needed to make n non-deficient. Returns false (and
// makes no change) if that would make right deficient.
func (n Leaf) RotateLeft(right Leaf) bool {
	if !n.IsDeficient() {
		return true
	}
	nUsed, rUsed := n.UsedSpace(), right.UsedSpace()
	rItems := right.ItemCount()
	count := 0
	for count < rItems && nUsed < DeficiencyThreshold {
		it := right.Item(count)
		cost := LeafItemSize + int(it.DataSize)
		nUsed += cost
		rUsed -= cost
		count++
	}
	if nUsed < DeficiencyThreshold || rUsed < DeficiencyThreshold || count == 0 {
		return false
	}
	n.takeFromFront(right, count)
	return true
}

// RotateRight moves the minimum number of items from left's back
// into n's front needed to make n non-deficient.
func (n Leaf) RotateRight(left Leaf) bool {
	if !n.IsDeficient() {
		return true
	}
	nUsed, lUsed := n.UsedSpace(), left.UsedSpace()
	lItems := left.ItemCount()
	count := 0
	for count < lItems && nUsed < DeficiencyThreshold {
		it := left.Item(lItems - 1 - count)
		cost := LeafItemSize + int(it.DataSize)
		nUsed += cost
		lUsed -= cost
		count++
	}
	if nUsed < DeficiencyThreshold || lUsed < DeficiencyThreshold || count == 0 {
		return false
	}
	n.takeFromBack(left, count)
	return true
}

// Merge absorbs right's items into n (n is the left sibling).
func (n Leaf) Merge(right Leaf) error {
	count := right.ItemCount()
	for i := 0; i < count; i++ {
		it := right.Item(i)
		data := right.payload(it)
		if !n.CanInsert(1, len(data)) {
			return errOverflow
		}
		if err := n.Insert(it.Key, data); err != nil {
			return err
		}
	}
	return nil
}

// Split moves a suffix of n's items into right (already formatted as
// an empty leaf), choosing the pivot that minimizes the imbalance in
// used bytes between the two halves.
func (n Leaf) Split(right Leaf) {
	count := n.ItemCount()
	if count < 2 {
		panic("tree: cannot split a leaf with fewer than 2 items")
	}
	sizes := make([]int, count)
	total := 0
	for i := 0; i < count; i++ {
		sizes[i] = LeafItemSize + int(n.Item(i).DataSize)
		total += sizes[i]
	}
	best, bestDiff := 1, -1
	left := 0
	for k := 1; k < count; k++ {
		left += sizes[k-1]
		diff := left - (total - left)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
			best = k
		}
	}

	type moved struct {
		key  Key
		data []byte
	}
	toMove := make([]moved, 0, count-best)
	for i := best; i < count; i++ {
		it := n.Item(i)
		toMove = append(toMove, moved{it.Key, append([]byte(nil), n.payload(it)...)})
	}
	for i := count - 1; i >= best; i-- {
		n.RemoveAt(i)
	}
	for _, m := range toMove {
		if err := right.Insert(m.key, m.data); err != nil {
			panic("tree: leaf split failed: " + err.Error())
		}
	}
}
