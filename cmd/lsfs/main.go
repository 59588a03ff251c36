// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command lsfs prints a tree listing of a greinafs volume, optionally
// dumping each inode's on-disk record alongside it.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	blockstorage "github.com/greinafs/greinafs/lib/block/storage"
	"github.com/greinafs/greinafs/lib/fs"
	"github.com/greinafs/greinafs/lib/fs/transaction"
	"github.com/greinafs/greinafs/lib/jsonutil"
	"github.com/greinafs/greinafs/lib/textui"
	"github.com/greinafs/greinafs/lib/tree"
)

const (
	tS = "    "
	tl = "│   "
	tT = "├── "
	tL = "└── "
)

func main() {
	var dumpRecords bool

	cmd := &cobra.Command{
		Use:   "lsfs IMAGE",
		Short: "Print a tree listing of a greinafs volume",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := blockstorage.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening image: %w", err)
			}
			defer dev.Close()

			fsys, err := transaction.Mount(dev)
			if err != nil {
				return fmt.Errorf("mounting: %w", err)
			}

			out := os.Stdout
			return fsys.Tx(func(tx *transaction.Transaction) error {
				return printInode(out, "", true, "/", tx, tree.RootNodeId, dumpRecords)
			})
		},
	}
	cmd.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	cmd.SetHelpTemplate(cliutil.HelpTemplate)
	cmd.Flags().BoolVar(&dumpRecords, "dump-records", false, "also print each inode's raw on-disk record as JSON")

	if err := cmd.Execute(); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", cmd.CommandPath(), err)
		os.Exit(1)
	}
}

func printText(out io.Writer, prefix string, isLast bool, name, text string) {
	first := tT
	if isLast {
		first = tL
	}
	fmt.Fprintf(out, "%s%s%q %s\n", prefix, first, name, text)
}

func fmtNode(n fs.Node, dumpRecord bool) string {
	s := fmt.Sprintf("type=%d size=%d links=%d", n.FileType, n.Size, n.Links)
	if dumpRecord {
		var buf bytes.Buffer
		if err := jsonutil.EncodeHexString(&buf, fs.MarshalNode(n)); err == nil {
			s += " record=" + buf.String()
		}
	}
	return s
}

func printInode(out io.Writer, prefix string, isLast bool, name string, tx *transaction.Transaction, id tree.NodeId, dumpRecords bool) error {
	node, err := tx.ReadNode(id)
	if err != nil {
		printText(out, prefix, isLast, name, "err="+err.Error())
		return nil
	}
	printText(out, prefix, isLast, name, fmtNode(node, dumpRecords))

	if node.FileType != fs.FileTypeDir {
		return nil
	}

	entries, err := tx.ReadDir(id)
	if err != nil {
		return nil
	}

	childPrefix := prefix + tl
	if isLast {
		childPrefix = prefix + tS
	}
	var visible []fs.DirEntry
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		visible = append(visible, e)
	}
	for i, e := range visible {
		if err := printInode(out, childPrefix, i == len(visible)-1, path.Join(name, e.Name), tx, e.Id, dumpRecords); err != nil {
			return err
		}
	}
	return nil
}
