// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command mount mounts a greinafs volume as a FUSE filesystem.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	blockstorage "github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs/transaction"
)

func main() {
	var cacheSize int
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "mount IMAGE MOUNTPOINT",
		Short: "Mount a greinafs volume as a FUSE filesystem",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

			dev, err := blockstorage.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening image: %w", err)
			}
			defer dev.Close()

			cached := blockstorage.NewCachingStorage(dev)

			fsys, err := transaction.Mount(cached)
			if err != nil {
				return fmt.Errorf("mounting: %w", err)
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("mount", func(ctx context.Context) error {
				return runFUSE(ctx, fsys, args[0], args[1], readOnly)
			})
			return grp.Wait()
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)
	cmd.Flags().IntVar(&cacheSize, "cache-blocks", 1024, "ignored: the read cache always holds 1024 blocks")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount read-only")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}
}
