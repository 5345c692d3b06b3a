package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/dupecache/internal/domain"
)

// errDiscrepancies makes a strict verify exit non-zero
var errDiscrepancies = errors.New("integrity check found discrepancies")

var (
	verifyJSON   bool
	verifyStrict bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the cache and history against the filesystem",
	Long: `Verify reports cache entries whose files are gone or changed, and history
records that are malformed or reference unknown scans. Nothing is modified;
run "cache compact" to drop stale entries.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			report, err := a.audit().Verify(cmd.Context())
			if err != nil {
				return err
			}
			if verifyJSON {
				if err := writeJSON(os.Stdout, report); err != nil {
					return err
				}
			} else {
				printReport(os.Stdout, report)
			}
			if verifyStrict && !report.Clean() {
				return fmt.Errorf("%w: %d", errDiscrepancies, len(report.Discrepancies))
			}
			return nil
		})
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the report as JSON")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "exit with status 3 when discrepancies are found")
	rootCmd.AddCommand(verifyCmd)
}

func printReport(w io.Writer, report *domain.IntegrityReport) {
	if report.Clean() {
		color.New(color.FgGreen).Fprintf(w, "OK: %s cache entries checked, no discrepancies\n",
			humanize.Comma(report.CacheEntriesChecked))
		return
	}

	kind := color.New(color.FgRed).SprintFunc()
	for _, d := range report.Discrepancies {
		subject := d.Path
		if subject == "" {
			subject = d.RecordID
		}
		line := fmt.Sprintf("%s %s", kind(string(d.Kind)), subject)
		if d.Detail != "" {
			line += ": " + d.Detail
		}
		fmt.Fprintln(w, line)
	}
	color.New(color.FgYellow).Fprintf(w, "%d discrepancies (%s cache entries checked)\n",
		len(report.Discrepancies), humanize.Comma(report.CacheEntriesChecked))
}
