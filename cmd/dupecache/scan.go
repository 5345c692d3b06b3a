package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/config"
	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/scanner"
)

var (
	scanAlgorithm      string
	scanWorkers        int
	scanExclude        []string
	scanMinSize        string
	scanMaxSize        string
	scanMinGroupBytes  string
	scanHidden         bool
	scanFollowSymlinks bool
	scanTimeout        string
	scanQuick          bool
	scanTop            int
	scanJSON           bool
	scanNoProgress     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [root...]",
	Short: "Scan directory trees for duplicate files",
	Long: `Scan walks every root, hashes candidate files (reusing cached digests
for unchanged files) and prints the groups of identical files.

Roots default to scan.roots from the configuration. Interrupting a scan
records a partial result marked cancelled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			applyScanFlags(cmd, &a.cfg.Scan)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			svc := scanner.New(scanConfig(&a.cfg.Scan), a.cache, a.history, a.fs, a.logger)

			var bar *progressbar.ProgressBar
			if !scanNoProgress && !scanJSON {
				bar = newScanBar()
				svc.OnProgress(func(p scanner.Progress) {
					bar.Describe(fmt.Sprintf("hashing (%s cached)", humanize.Comma(p.CacheHits)))
					_ = bar.Set64(p.FilesHashed + p.Eliminated + p.Errors)
				})
			}

			res, err := svc.Scan(cmd.Context(), args)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			if scanJSON {
				return writeJSON(os.Stdout, map[string]any{
					"scan":   res.Record,
					"groups": res.Groups,
				})
			}

			printGroups(os.Stdout, res.Groups, scanTop)
			printScanSummary(os.Stdout, res)
			if len(res.FileErrors) > 0 {
				a.logger.Debug("per-file errors", zap.Error(res.Err()))
			}
			return nil
		})
	},
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&scanAlgorithm, "algorithm", "a", "", "hash algorithm (md5, sha1, sha256, sha512, blake3, xxhash)")
	f.IntVarP(&scanWorkers, "workers", "w", 0, "concurrent hashing workers (default: number of CPUs)")
	f.StringSliceVarP(&scanExclude, "exclude", "e", nil, "glob pattern to exclude (repeatable)")
	f.StringVar(&scanMinSize, "min-size", "", "skip files smaller than this (e.g. 1KiB)")
	f.StringVar(&scanMaxSize, "max-size", "", "skip files larger than this (e.g. 4GiB)")
	f.StringVar(&scanMinGroupBytes, "min-group-bytes", "", "hide groups whose combined size is below this")
	f.BoolVar(&scanHidden, "hidden", false, "include hidden files and directories")
	f.BoolVarP(&scanFollowSymlinks, "follow-symlinks", "L", false, "follow symbolic links")
	f.StringVar(&scanTimeout, "timeout", "", "stop the scan after this long (e.g. 10m)")
	f.BoolVar(&scanQuick, "quick", false, "compare uncached files by size and prefix digest before reading them whole")
	f.IntVar(&scanTop, "top", 20, "number of groups to print (0 for all)")
	f.BoolVar(&scanJSON, "json", false, "print the scan record and groups as JSON")
	f.BoolVar(&scanNoProgress, "no-progress", false, "disable the progress indicator")

	rootCmd.AddCommand(scanCmd)
}

// applyScanFlags overrides configuration with the flags the user set
func applyScanFlags(cmd *cobra.Command, sc *config.ScanConfig) {
	f := cmd.Flags()
	if f.Changed("algorithm") {
		sc.Algorithm = scanAlgorithm
	}
	if f.Changed("workers") {
		sc.Workers = scanWorkers
	}
	if f.Changed("exclude") {
		sc.Exclude = append(sc.Exclude, scanExclude...)
	}
	if f.Changed("min-size") {
		sc.MinFileSize = scanMinSize
	}
	if f.Changed("max-size") {
		sc.MaxFileSize = scanMaxSize
	}
	if f.Changed("min-group-bytes") {
		sc.MinGroupBytes = scanMinGroupBytes
	}
	if f.Changed("hidden") {
		sc.IncludeHidden = scanHidden
	}
	if f.Changed("follow-symlinks") {
		sc.FollowSymlinks = scanFollowSymlinks
	}
	if f.Changed("timeout") {
		sc.Timeout = scanTimeout
	}
	if f.Changed("quick") {
		sc.QuickHash = scanQuick
	}
}

// scanConfig converts validated configuration into scanner settings
func scanConfig(sc *config.ScanConfig) *scanner.Config {
	return &scanner.Config{
		Roots:             sc.Roots,
		Filter:            sc.Filter(),
		Algorithm:         sc.GetAlgorithm(),
		ChunkSize:         sc.GetChunkSize(),
		Workers:           sc.GetWorkers(),
		MinGroupSize:      sc.MinGroupSize,
		MinGroupBytes:     sc.GetMinGroupBytes(),
		Timeout:           sc.GetTimeout(),
		ProgressInterval:  sc.GetProgressInterval(),
		MaxRecordedErrors: sc.MaxRecordedErrors,
		QuickHash:         sc.QuickHash,
		QuickHashBytes:    sc.GetQuickHashSize(),
	}
}

func newScanBar() *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("hashing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

func printGroups(w io.Writer, groups []domain.DuplicateGroup, top int) {
	header := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	shown := groups
	if top > 0 && len(shown) > top {
		shown = shown[:top]
	}
	for i, g := range shown {
		fmt.Fprintf(w, "%s %d files x %s, %s reclaimable %s\n",
			header(fmt.Sprintf("[%d]", i+1)),
			g.Count(),
			humanize.IBytes(uint64(g.Size)),
			humanize.IBytes(uint64(g.ReclaimableBytes())),
			dim(shortHash(g.Hash)))
		for _, p := range g.Paths {
			fmt.Fprintf(w, "    %s\n", p)
		}
	}
	if len(shown) < len(groups) {
		fmt.Fprintln(w, dim(fmt.Sprintf("... %d more groups (use --top 0 to list all)", len(groups)-len(shown))))
	}
	if len(shown) > 0 {
		fmt.Fprintln(w)
	}
}

func printScanSummary(w io.Writer, res *scanner.Result) {
	rec := res.Record
	if res.Cancelled() {
		color.New(color.FgYellow).Fprintf(w, "Scan %s cancelled; partial results recorded\n", rec.ID)
	} else {
		color.New(color.FgGreen).Fprintf(w, "Scan %s completed in %s\n", rec.ID, rec.Duration().Round(time.Millisecond))
	}

	hitRate := 0.0
	if total := res.HashStats.CacheHits + res.HashStats.CacheMisses; total > 0 {
		hitRate = float64(res.HashStats.CacheHits) / float64(total) * 100
	}

	fmt.Fprintf(w, "  files processed:  %s\n", humanize.Comma(rec.FilesProcessed))
	fmt.Fprintf(w, "  duplicate groups: %s\n", humanize.Comma(rec.GroupsFound))
	fmt.Fprintf(w, "  duplicate files:  %s\n", humanize.Comma(rec.DuplicateFiles))
	fmt.Fprintf(w, "  reclaimable:      %s\n", humanize.IBytes(uint64(rec.ReclaimableBytes)))
	fmt.Fprintf(w, "  cache hits:       %s (%s%%)\n",
		humanize.Comma(res.HashStats.CacheHits), strconv.FormatFloat(hitRate, 'f', 1, 64))
	if res.Eliminated > 0 {
		fmt.Fprintf(w, "  ruled out early:  %s\n", humanize.Comma(res.Eliminated))
	}
	fmt.Fprintf(w, "  bytes read:       %s\n", humanize.IBytes(uint64(res.HashStats.BytesRead)))

	if rec.ErrorCount > 0 || rec.WarningCount > 0 {
		color.New(color.FgYellow).Fprintf(w, "  errors: %d, warnings: %d\n", rec.ErrorCount, rec.WarningCount)
		for _, msg := range rec.Errors {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
