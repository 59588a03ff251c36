// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMarshalRoundTrip(t *testing.T) {
	n := Node{Size: 1234, FileType: FileTypeSymlink, Links: 3}
	buf := MarshalNode(n)
	assert.Len(t, buf, nodeRecordSize)

	got, err := unmarshalNode(buf)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestUnmarshalNodeRejectsWrongSize(t *testing.T) {
	_, err := unmarshalNode([]byte{1, 2, 3})
	require.Error(t, err)
}
