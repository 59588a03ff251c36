// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command mkfs formats a regular file as a fresh greinafs volume.
package main

import (
	"fmt"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/greinafs/greinafs/lib/block"
	blockstorage "github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs/transaction"
	"github.com/greinafs/greinafs/lib/textui"
)

func main() {
	var sizeFlag string

	cmd := &cobra.Command{
		Use:   "mkfs IMAGE",
		Short: "Format a file as a fresh greinafs volume",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(sizeFlag)
			if err != nil {
				return err
			}
			blockCount := (size + block.Size - 1) / block.Size

			dev, err := blockstorage.Create(args[0], blockCount)
			if err != nil {
				return fmt.Errorf("creating image: %w", err)
			}
			defer dev.Close()

			if _, err := transaction.Create(dev); err != nil {
				return fmt.Errorf("formatting: %w", err)
			}

			fmt.Printf("created filesystem on %s with %d blocks\n", args[0], blockCount)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)
	cmd.Flags().StringVar(&sizeFlag, "size", "64M", "volume size, as a byte count with an optional K/M/G suffix")

	if err := cmd.Execute(); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}
}

func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
