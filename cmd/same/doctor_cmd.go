package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pyrite-go/kbsearch/internal/cli"
	"github.com/pyrite-go/kbsearch/internal/config"
)

// doctorResult is one check's outcome, printed as a checklist line or
// collected into doctorReport for --json.
type doctorResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip"
	Message string `json:"message"`
}

type doctorReport struct {
	Checks  []doctorResult `json:"checks"`
	Passed  int            `json:"passed"`
	Failed  int            `json:"failed"`
	Skipped int            `json:"skipped"`
}

func doctorCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose index health: schema, FTS5, vector search, embedding queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor()
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return dataError(err)
				}
			} else {
				printDoctorReport(report)
			}
			if report.Failed > 0 {
				return dataError(fmt.Errorf("%d checks failed", report.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	return cmd
}

func runDoctor() doctorReport {
	var report doctorReport

	add := func(name string, status string, message string) {
		report.Checks = append(report.Checks, doctorResult{Name: name, Status: status, Message: message})
		switch status {
		case "pass":
			report.Passed++
		case "fail":
			report.Failed++
		default:
			report.Skipped++
		}
	}

	db, err := openStore()
	if err != nil {
		add("open index", "fail", err.Error())
		return report
	}
	defer db.Close()

	add("schema version", "pass", fmt.Sprintf("v%d", db.SchemaVersion()))

	if db.FTSAvailable() {
		add("fts5", "pass", "available")
	} else {
		add("fts5", "fail", "FTS5 virtual tables unavailable — keyword search disabled")
	}

	if db.VecAvailable() {
		add("sqlite-vec", "pass", "available")
	} else {
		add("sqlite-vec", "skip", "vector extension unavailable — semantic search disabled")
	}

	if err := db.IntegrityCheck(); err != nil {
		add("integrity check", "fail", err.Error())
	} else {
		add("integrity check", "pass", "ok")
	}

	total, embedded, pct, err := db.EmbeddingStats()
	if err != nil {
		add("embedding coverage", "fail", err.Error())
	} else {
		add("embedding coverage", "pass", fmt.Sprintf("%d/%d entries embedded (%.1f%%)", embedded, total, pct))
	}

	qs, err := db.QueueStatus()
	if err != nil {
		add("embed queue", "fail", err.Error())
	} else if qs.Failed > 0 {
		add("embed queue", "fail", fmt.Sprintf("pending=%d failed=%d", qs.Pending, qs.Failed))
	} else {
		add("embed queue", "pass", fmt.Sprintf("pending=%d failed=%d", qs.Pending, qs.Failed))
	}

	if _, err := config.EmbeddingBaseURL(); err != nil {
		add("embedding base url", "fail", err.Error())
	} else {
		add("embedding base url", "pass", "ok")
	}

	return report
}

func printDoctorReport(report doctorReport) {
	cli.Header("same doctor")
	for _, c := range report.Checks {
		mark, color := "?", cli.Dim
		switch c.Status {
		case "pass":
			mark, color = "✓", cli.Green
		case "fail":
			mark, color = "✗", cli.Red
		case "skip":
			mark, color = "-", cli.Yellow
		}
		fmt.Printf("  %s%s%s %-24s %s\n", color, mark, cli.Reset, c.Name, c.Message)
	}
	fmt.Printf("\n  %d passed, %d failed, %d skipped\n", report.Passed, report.Failed, report.Skipped)
	cli.Footer()
}
