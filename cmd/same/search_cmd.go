package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/config"
	"github.com/pyrite-go/kbsearch/internal/expand"
	"github.com/pyrite-go/kbsearch/internal/search"
	"github.com/pyrite-go/kbsearch/internal/store"
)

func searchCmd() *cobra.Command {
	var mode, kbName, entryType, tagsFlag, dateFrom, dateTo string
	var limit, offset int
	var expandQuery, jsonOut bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed knowledge bases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			db, err := openStore()
			if err != nil {
				return configError(err)
			}
			defer db.Close()

			m := search.Mode(mode)
			switch m {
			case search.ModeKeyword, search.ModeSemantic, search.ModeHybrid:
			case "":
				defMode, _, _ := config.SearchConfigValues()
				m = search.Mode(defMode)
			default:
				return configError(fmt.Errorf("unknown search mode %q (want keyword, semantic, or hybrid)", mode))
			}

			var provider = newEmbedProvider()
			var expander expand.Expander
			if expandQuery {
				expander = newExpander()
			}

			_, rrfK, rrfOverfetch := config.SearchConfigValues()
			engine := search.New(db, provider, expander, search.WithRRFParams(rrfK, rrfOverfetch))

			var tags []string
			if tagsFlag != "" {
				tags = strings.Split(tagsFlag, ",")
			}

			hits, err := engine.Search(search.Request{
				Query:     query,
				KBName:    kbName,
				EntryType: entryType,
				Tags:      tags,
				DateFrom:  dateFrom,
				DateTo:    dateTo,
				Limit:     limit,
				Offset:    offset,
				Mode:      m,
				Expand:    expandQuery,
			})
			if err != nil {
				return dataError(fmt.Errorf("search: %w", err))
			}

			if jsonOut {
				return printHitsJSON(hits)
			}
			printHits(hits)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "search mode: keyword, semantic, hybrid (default from config)")
	cmd.Flags().StringVar(&kbName, "kb", "", "restrict to one KB name")
	cmd.Flags().StringVar(&entryType, "type", "", "restrict to one entry type")
	cmd.Flags().StringVar(&tagsFlag, "tags", "", "comma-separated tags, all must match")
	cmd.Flags().StringVar(&dateFrom, "from", "", "earliest date (inclusive)")
	cmd.Flags().StringVar(&dateTo, "to", "", "latest date (inclusive)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset for pagination")
	cmd.Flags().BoolVar(&expandQuery, "expand", false, "expand the query via the configured AI provider")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	return cmd
}

func printHits(hits []store.Hit) {
	if len(hits) == 0 {
		fmt.Printf("%sno results%s\n", cli.Dim, cli.Reset)
		return
	}
	for i, h := range hits {
		fmt.Printf("%s%d.%s %s%s%s %s(%s · %s)%s\n",
			cli.Bold, i+1, cli.Reset, cli.Cyan, h.Title, cli.Reset, cli.Dim, h.KBName, h.EntryType, cli.Reset)
		if h.Snippet != "" {
			fmt.Printf("   %s\n", h.Snippet)
		}
		fmt.Println()
	}
}

func printHitsJSON(hits []store.Hit) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(hits)
}
