// Command same is the CLI entrypoint for the knowledge base search engine:
// thin cobra glue over the indexer, store, search, and worker packages —
// index, search, repair, doctor, worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/config"
)

// Exit codes returned to the shell.
const (
	exitOK        = 0
	exitConfigErr = 1
	exitDataErr   = 2
)

func main() {
	root := &cobra.Command{
		Use:   "same",
		Short: "Search a knowledge base of markdown files",
		Long: `same indexes one or more knowledge bases of markdown files with YAML
frontmatter and answers keyword, semantic, and hybrid search queries over
them.

Quick start:
  same index ./notes --name notes   Index a directory as KB "notes"
  same search "launch timeline"     Search the default KB
  same doctor                       Check index health`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringVar(&config.KBOverride, "kb", "", "KB name or path (overrides auto-detect)")

	root.AddCommand(indexCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(repairCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "same: %v\n", err)
		if ce, ok := err.(*exitCodeError); ok {
			os.Exit(ce.code)
		}
		os.Exit(exitConfigErr)
	}
}

// exitCodeError lets a RunE signal a specific process exit code while
// still printing through cobra's normal error path.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func dataError(err error) error {
	return &exitCodeError{code: exitDataErr, err: err}
}

func configError(err error) error {
	return &exitCodeError{code: exitConfigErr, err: err}
}
