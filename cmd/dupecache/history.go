package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/dupecache/internal/domain"
)

var (
	historyLimit  int
	historyJSON   bool
	historyPeriod time.Duration
	historyYes    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the scan and deletion history",
}

var historyScansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List the most recent scans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			scans, err := a.audit().RecentScans(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if historyJSON {
				return writeJSON(os.Stdout, scans)
			}
			printScans(os.Stdout, scans)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show one scan and the deletions recorded against it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			scan, deletions, err := a.audit().GetScan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if historyJSON {
				return writeJSON(os.Stdout, map[string]any{
					"scan":      scan,
					"deletions": deletions,
				})
			}
			printScanDetail(os.Stdout, scan)
			if len(deletions) > 0 {
				fmt.Fprintln(os.Stdout)
				printDeletions(os.Stdout, deletions)
			}
			return nil
		})
	},
}

var historyDeletionsCmd = &cobra.Command{
	Use:   "deletions",
	Short: "List the most recent recorded deletions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			deletions, err := a.audit().RecentDeletions(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if historyJSON {
				return writeJSON(os.Stdout, deletions)
			}
			printDeletions(os.Stdout, deletions)
			return nil
		})
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over every scan and deletion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			svc := a.audit()
			agg, err := svc.AggregateStats(cmd.Context())
			if err != nil {
				return err
			}

			var period *domain.DeletionStats
			if historyPeriod > 0 {
				if period, err = svc.DeletionStats(cmd.Context(), historyPeriod); err != nil {
					return err
				}
			}

			if historyJSON {
				return writeJSON(os.Stdout, map[string]any{
					"aggregate": agg,
					"period":    period,
				})
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "scans:\t%s\n", humanize.Comma(agg.TotalScans))
			fmt.Fprintf(tw, "groups found:\t%s\n", humanize.Comma(agg.TotalGroupsFound))
			fmt.Fprintf(tw, "duplicates found:\t%s\n", humanize.Comma(agg.TotalDuplicatesFound))
			fmt.Fprintf(tw, "deletions:\t%s\n", humanize.Comma(agg.TotalDeletions))
			fmt.Fprintf(tw, "files deleted:\t%s\n", humanize.Comma(agg.TotalFilesDeleted))
			fmt.Fprintf(tw, "bytes recovered:\t%s\n", humanize.IBytes(uint64(agg.TotalBytesRecovered)))
			if agg.LastScanAt != nil {
				fmt.Fprintf(tw, "last scan:\t%s\n", humanize.Time(*agg.LastScanAt))
			}
			if period != nil {
				fmt.Fprintf(tw, "recovered since %s:\t%s in %d files\n",
					period.Since.Format(time.DateOnly),
					humanize.IBytes(uint64(period.BytesRecovered)),
					period.FilesDeleted)
			}
			return tw.Flush()
		})
	},
}

var historyCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim free space in the history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.maintenance().CompactHistory(cmd.Context()); err != nil {
				return err
			}
			color.Green("History compacted")
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every scan and deletion record",
	Long:  "Clear drops the whole history. The hash cache is left untouched. Requires --yes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.maintenance().ClearHistory(cmd.Context(), historyYes); err != nil {
				return err
			}
			color.Yellow("History cleared")
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{historyScansCmd, historyDeletionsCmd} {
		c.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of records to list (0 for all)")
	}
	for _, c := range []*cobra.Command{historyScansCmd, historyShowCmd, historyDeletionsCmd, historyStatsCmd} {
		c.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")
	}
	historyStatsCmd.Flags().DurationVar(&historyPeriod, "period", 0, "also report bytes recovered over this trailing period (e.g. 720h)")
	historyClearCmd.Flags().BoolVar(&historyYes, "yes", false, "confirm the history should be cleared")

	historyCmd.AddCommand(historyScansCmd, historyShowCmd, historyDeletionsCmd,
		historyStatsCmd, historyCompactCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func printScans(w io.Writer, scans []*domain.ScanRecord) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tFILES\tGROUPS\tRECLAIMABLE\tERRORS")
	for _, s := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID,
			s.StartedAt.Local().Format(time.DateTime),
			statusString(s.Status),
			humanize.Comma(s.FilesProcessed),
			humanize.Comma(s.GroupsFound),
			humanize.IBytes(uint64(s.ReclaimableBytes)),
			s.ErrorCount)
	}
	tw.Flush()
}

func printScanDetail(w io.Writer, s *domain.ScanRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", s.ID)
	fmt.Fprintf(tw, "status:\t%s\n", statusString(s.Status))
	fmt.Fprintf(tw, "started:\t%s\n", s.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "duration:\t%s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(tw, "roots:\t%s\n", strings.Join(s.Roots, ", "))
	fmt.Fprintf(tw, "algorithm:\t%s\n", s.Algorithm)
	fmt.Fprintf(tw, "files processed:\t%s\n", humanize.Comma(s.FilesProcessed))
	fmt.Fprintf(tw, "duplicate groups:\t%s\n", humanize.Comma(s.GroupsFound))
	fmt.Fprintf(tw, "duplicate files:\t%s\n", humanize.Comma(s.DuplicateFiles))
	fmt.Fprintf(tw, "reclaimable:\t%s\n", humanize.IBytes(uint64(s.ReclaimableBytes)))
	fmt.Fprintf(tw, "errors:\t%d\n", s.ErrorCount)
	fmt.Fprintf(tw, "warnings:\t%d\n", s.WarningCount)
	tw.Flush()
	for _, msg := range s.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}

func printDeletions(w io.Writer, deletions []*domain.DeletionRecord) {
	if len(deletions) == 0 {
		fmt.Fprintln(w, "No deletions recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tSCAN\tFILES\tRECOVERED")
	for _, d := range deletions {
		scanID := d.ScanID
		if scanID == "" {
			scanID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			d.ID,
			d.RecordedAt.Local().Format(time.DateTime),
			scanID,
			len(d.Paths),
			humanize.IBytes(uint64(d.BytesRecovered)))
	}
	tw.Flush()
}

func statusString(s domain.ScanStatus) string {
	if s == domain.ScanStatusCancelled {
		return color.YellowString(string(s))
	}
	return color.GreenString(string(s))
}
