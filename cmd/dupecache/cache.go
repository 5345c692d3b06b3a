package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cacheJSON bool
	cacheYes  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the hash cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hash cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			stats, err := a.audit().CacheStats(cmd.Context())
			if err != nil {
				return err
			}
			if cacheJSON {
				return writeJSON(os.Stdout, stats)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "entries:\t%s\n", humanize.Comma(stats.TotalEntries))
			fmt.Fprintf(tw, "size on disk:\t%s\n", humanize.IBytes(uint64(stats.ApproxSizeBytes)))
			fmt.Fprintf(tw, "hit rate:\t%.1f%% of the last %d lookups\n", stats.HitRate*100, stats.WindowLookups)
			return tw.Flush()
		})
	},
}

var cacheCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop entries for changed or missing files and reclaim space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			res, err := a.maintenance().CompactCache(cmd.Context())
			if err != nil {
				return err
			}
			color.Green("Checked %s entries, removed %s (%d stale, %d aged)",
				humanize.Comma(res.Checked), humanize.Comma(res.Removed()), res.RemovedStale, res.RemovedAged)
			fmt.Printf("Size: %s -> %s\n",
				humanize.IBytes(uint64(res.BytesBefore)), humanize.IBytes(uint64(res.BytesAfter)))
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache entry",
	Long:  "Clear drops the whole hash cache; the next scan rehashes everything. The history is left untouched. Requires --yes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.maintenance().ClearCache(cmd.Context(), cacheYes); err != nil {
				return err
			}
			color.Yellow("Hash cache cleared")
			return nil
		})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <path>...",
	Short: "Forget the cached digests of the given paths",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			n, err := a.maintenance().InvalidatePaths(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s cache entries\n", humanize.Comma(n))
			return nil
		})
	},
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&cacheJSON, "json", false, "print as JSON")
	cacheClearCmd.Flags().BoolVar(&cacheYes, "yes", false, "confirm the cache should be cleared")

	cacheCmd.AddCommand(cacheStatsCmd, cacheCompactCmd, cacheClearCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
