package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/git"
	"github.com/pyrite-go/kbsearch/internal/indexer"
	"github.com/pyrite-go/kbsearch/internal/store"
	"github.com/pyrite-go/kbsearch/internal/worker"
)

func indexCmd() *cobra.Command {
	var name, kbType string
	var readOnly, noEmbed bool

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a directory of markdown files as a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return configError(fmt.Errorf("resolve path: %w", err))
			}
			if name == "" {
				name = filepath.Base(root)
			}
			if kbType == "" {
				kbType = "notes"
			}

			db, err := openStore()
			if err != nil {
				return configError(err)
			}
			defer db.Close()

			if err := db.RegisterKB(name, kbType, root, "", readOnly); err != nil {
				return dataError(fmt.Errorf("register kb: %w", err))
			}

			var w *worker.Worker
			if !noEmbed {
				w = worker.New(db, newEmbedProvider(), store.DefaultMaxAttempts)
			}

			attr := git.Attributor{}
			progress := func(current, total int, path string) {
				if total == 0 {
					return
				}
				fmt.Printf("\r%s  indexing %d/%d...%s", cli.Dim, current, total, cli.Reset)
			}
			onEntry := func(id string) {
				if w != nil {
					if err := w.Enqueue(id, name); err != nil {
						printErrf("enqueue %s: %v", id, err)
					}
				}
			}

			stats, err := indexer.IngestKB(db, name, root, attr, onEntry, progress)
			fmt.Println()
			if err != nil {
				return dataError(fmt.Errorf("index kb: %w", err))
			}

			fmt.Printf("%sindexed %d/%d files (%d errors) into %q%s\n",
				cli.Green, stats.Indexed, stats.TotalFiles, stats.Errors, name, cli.Reset)
			if w != nil && stats.Indexed > 0 {
				fmt.Printf("%squeued %d entries for embedding — run 'same worker run' to process%s\n",
					cli.Dim, stats.Indexed, cli.Reset)
			}
			if stats.Errors > 0 {
				return dataError(fmt.Errorf("%d files failed to index", stats.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "KB name (default: directory basename)")
	cmd.Flags().StringVar(&kbType, "type", "notes", "KB type tag")
	cmd.Flags().BoolVar(&readOnly, "readonly", false, "mark this KB read-only")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "skip queuing entries for embedding")
	return cmd
}
