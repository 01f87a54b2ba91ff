package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/store"
	"github.com/pyrite-go/kbsearch/internal/watcher"
	"github.com/pyrite-go/kbsearch/internal/worker"
)

func watchCmd() *cobra.Command {
	var kbName string
	var noEmbed bool

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a directory and incrementally reindex on change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return configError(fmt.Errorf("resolve path: %w", err))
			}
			if kbName == "" {
				kbName = filepath.Base(root)
			}

			db, err := openStore()
			if err != nil {
				return configError(err)
			}
			defer db.Close()

			var w *worker.Worker
			if !noEmbed {
				w = worker.New(db, newEmbedProvider(), store.DefaultMaxAttempts)
			}

			if err := watcher.Watch(db, w, kbName, root); err != nil {
				return dataError(fmt.Errorf("watch: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kbName, "name", "", "KB name (default: directory basename)")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip queuing changed entries for embedding")
	return cmd
}
