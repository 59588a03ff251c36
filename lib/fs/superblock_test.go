// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greinafs/greinafs/lib/tree"
)

func TestNewSuperblockLayout(t *testing.T) {
	sb := NewSuperblock(100000)
	assert.Equal(t, uint64(100000), sb.BlockCount)
	assert.Equal(t, tree.RootNodeId, sb.NextNodeId)
	assert.Greater(t, sb.RootAddr, sb.BlockAllocStart)
}

func TestSuperblockAllocateNode(t *testing.T) {
	sb := NewSuperblock(100)
	first := sb.AllocateNode()
	second := sb.AllocateNode()
	assert.Equal(t, tree.RootNodeId, first)
	assert.Equal(t, tree.NodeId(2), second)
}

func TestSuperblockMarshalRoundTrip(t *testing.T) {
	sb := NewSuperblock(4096)
	sb.AllocateNode()

	b := sb.MarshalBlock()
	got, err := UnmarshalSuperblock(&b)
	require.NoError(t, err)
	assert.Equal(t, sb, got)
}

func TestUnmarshalSuperblockRejectsBadSignature(t *testing.T) {
	sb := NewSuperblock(4096)
	b := sb.MarshalBlock()
	b[0] = 'X'
	_, err := UnmarshalSuperblock(&b)
	require.Error(t, err)
}
