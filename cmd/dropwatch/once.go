package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dropwatch/internal/ingest"

	"github.com/spf13/cobra"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Process the watched folder once and print what happened to each pair",
		RunE:  runOnce,
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	svc, cleanup, err := a.openJournal(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := a.newCycle(svc, nil).Run(cmd.Context())
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(out io.Writer, report ingest.CycleReport) {
	if len(report.Outcomes) == 0 {
		fmt.Fprintln(out, "No descriptors found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESCRIPTOR\tSTATUS\tREASON\tKEY\tSIZE")
	for _, o := range report.Outcomes {
		reason := string(o.Reason)
		if reason == "" {
			reason = "-"
		}
		key := o.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", o.Descriptor, o.Status, reason, key, o.Size)
	}
	w.Flush()

	fmt.Fprintf(out, "\ndone: %d, error: %d, aborted: %d (%s)\n",
		report.Count(ingest.StatusDone),
		report.Count(ingest.StatusError),
		report.Count(ingest.StatusAborted),
		report.Elapsed.Round(time.Millisecond))
}
