// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package fs

// fnvHash computes the 64-bit FNV-1a hash of name, used to key
// directory entries by name under their parent's NodeId.
func fnvHash(name []byte) uint64 {
	const (
		offsetBasis = 14695981039346656037
		prime       = 1099511628211
	)
	h := uint64(offsetBasis)
	for _, b := range name {
		h ^= uint64(b)
		h *= prime
	}
	return h
}
