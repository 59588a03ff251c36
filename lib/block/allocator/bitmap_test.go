// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greinafs/greinafs/lib/block"
	"github.com/greinafs/greinafs/lib/ferrors"
)

func TestBitmapAllocateDeallocate(t *testing.T) {
	b := NewBitmap(16)
	assert.Equal(t, uint64(16), b.Available())

	addr, err := b.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, block.Addr(0), addr)
	assert.Equal(t, uint64(12), b.Available())

	addr2, err := b.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, block.Addr(4), addr2)

	require.NoError(t, b.Deallocate(addr, 4))
	assert.Equal(t, uint64(12), b.Available())

	// next-fit: the scan resumes at the cursor past the last run, so
	// the freed run at 0 is not revisited until the scan wraps
	addr3, err := b.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, block.Addr(8), addr3)
}

func TestBitmapExhaustion(t *testing.T) {
	b := NewBitmap(4)
	_, err := b.Allocate(4)
	require.NoError(t, err)

	_, err = b.Allocate(1)
	require.Error(t, err)
	assert.True(t, ferrors.Errno(err) != 0)
}

func TestBitmapDeallocateNotAllocated(t *testing.T) {
	b := NewBitmap(4)
	err := b.Deallocate(0, 1)
	require.Error(t, err)
}

func TestBitmapDeallocateOutOfBounds(t *testing.T) {
	b := NewBitmap(4)
	_, _ = b.Allocate(4)
	err := b.Deallocate(2, 4)
	require.Error(t, err)
}

func TestBitmapRoundTripBytes(t *testing.T) {
	b := NewBitmap(100)
	_, err := b.Allocate(37)
	require.NoError(t, err)

	b2 := BitmapFromBytes(100, b.Bytes())
	assert.Equal(t, b.Available(), b2.Available())

	_, err = b2.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, b.Available()-1, b2.Available())
}

func TestBitmapClone(t *testing.T) {
	b := NewBitmap(8)
	_, err := b.Allocate(2)
	require.NoError(t, err)

	clone := b.Clone()
	_, err = clone.Allocate(2)
	require.NoError(t, err)

	assert.NotEqual(t, b.Available(), clone.Available())
}
