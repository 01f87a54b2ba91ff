package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/indexer"
)

func repairCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "repair <path>",
		Short: "Normalize frontmatter across a vault before indexing",
		Long: `repair walks a directory of markdown files and rewrites
frontmatter in place: injecting missing ids, stripping stale wikilink
type prefixes, and normalizing the research or timeline frontmatter
dialect (--kind).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return configError(fmt.Errorf("resolve path: %w", err))
			}

			var rk indexer.RepairKind
			switch kind {
			case "", "research":
				rk = indexer.RepairResearch
			case "timeline":
				rk = indexer.RepairTimeline
			default:
				return configError(fmt.Errorf("unknown repair kind %q (want research or timeline)", kind))
			}

			stats, errs := indexer.RepairVault(root, rk)
			fmt.Printf("%sids injected: %d (%d collisions)%s\n",
				cli.Dim, stats.IDsInjected, len(stats.IDCollisions), cli.Reset)
			for _, c := range stats.IDCollisions {
				fmt.Printf("  %scollision:%s %s\n", cli.Yellow, cli.Reset, c)
			}
			fmt.Printf("%swikilinks rewired: %d, files normalized: %d (kind=%s)%s\n",
				cli.Green, stats.WikilinksRewired, stats.FilesNormalized, kind, cli.Reset)
			for _, e := range errs {
				printErrf("%v", e)
			}
			if len(errs) > 0 {
				return dataError(fmt.Errorf("%d files failed to repair", len(errs)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "research", "frontmatter dialect: research or timeline")
	return cmd
}
