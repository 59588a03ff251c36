// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greinafs/greinafs/lib/ferrors"
)

func TestValidateNameRejectsReserved(t *testing.T) {
	_, err := validateName(".")
	require.Error(t, err)
	assert.Equal(t, ferrors.InvalidName, err.(*ferrors.Error).Kind)

	_, err = validateName("..")
	require.Error(t, err)
}

func TestValidateNameRejectsSlashAndNUL(t *testing.T) {
	_, err := validateName("a/b")
	require.Error(t, err)

	_, err = validateName("a\x00b")
	require.Error(t, err)
}

func TestValidateNameRejectsTooLong(t *testing.T) {
	_, err := validateName(strings.Repeat("x", NameMaxLen+1))
	require.Error(t, err)
}

func TestValidateNameAcceptsOrdinary(t *testing.T) {
	n, err := validateName("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, dirEntryName("readme.txt"), n)
}

func TestDirEntryMarshalRoundTrip(t *testing.T) {
	e := DirEntry{FileType: FileTypeFile, Id: 42, Name: "hello"}
	buf := e.marshal()
	got, err := unmarshalDirEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestHashDistinguishesSimilarNames(t *testing.T) {
	a := dirEntryName("foo").hash()
	b := dirEntryName("fop").hash()
	assert.NotEqual(t, a, b)
}
