// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package block defines the fixed-size unit of device I/O and tree
// storage that everything above it is addressed in.
package block

import (
	"fmt"

	"github.com/greinafs/greinafs/lib/fmtutil"
)

// Size is the fixed block size, in bytes, of every device and every
// tree node.
const Size = 4096

// Addr is a 64-bit block index on the device. Block 0 is always the
// superblock.
type Addr uint64

// Format implements fmt.Formatter, rendering %v/%s/%q as a fixed-width
// hex address and leaving other verbs (%d, etc) to print the plain
// integer.
func (a Addr) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#016x", uint64(a))
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), uint64(a))
	}
}

// Block is one fixed-size unit of storage.
type Block [Size]byte
