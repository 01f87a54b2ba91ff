package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/store"
	"github.com/pyrite-go/kbsearch/internal/worker"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain the embedding work queue",
	}
	cmd.AddCommand(workerRunCmd())
	cmd.AddCommand(workerStatusCmd())
	return cmd
}

func workerRunCmd() *cobra.Command {
	var batchSize int
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process pending embedding queue rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return configError(err)
			}
			defer db.Close()

			provider := newEmbedProvider()
			if provider == nil {
				return configError(fmt.Errorf("no embedding provider configured — set embedding.provider in config"))
			}
			w := worker.New(db, provider, store.DefaultMaxAttempts)

			runOnce := func() error {
				result, err := w.ProcessBatch(batchSize)
				if err != nil {
					return err
				}
				fmt.Printf("%sattempted %d, succeeded %d, failed %d, quarantined %d%s\n",
					cli.Green, result.Attempted, result.Succeeded, result.Failed, result.Quarantined, cli.Reset)
				return nil
			}

			if !watch {
				if err := runOnce(); err != nil {
					return dataError(fmt.Errorf("process batch: %w", err))
				}
				return nil
			}

			fmt.Printf("%swatching embed queue every %s (ctrl-c to stop)%s\n", cli.Dim, interval, cli.Reset)
			for {
				if err := runOnce(); err != nil {
					printErrf("process batch: %v", err)
				}
				time.Sleep(interval)
			}
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 20, "rows to embed per pass")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep draining the queue forever")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "delay between passes in --watch mode")
	return cmd
}

func workerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show embedding queue depth and failure counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return configError(err)
			}
			defer db.Close()

			status, err := db.QueueStatus()
			if err != nil {
				return dataError(fmt.Errorf("queue status: %w", err))
			}
			fmt.Printf("pending: %d\nfailed:  %d\n", status.Pending, status.Failed)
			return nil
		},
	}
}
