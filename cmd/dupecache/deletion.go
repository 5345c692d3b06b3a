package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/audit"
)

var (
	deletionScanID string
	deletionJSON   bool
)

var recordDeletionCmd = &cobra.Command{
	Use:   "record-deletion <path[=size]>...",
	Short: "Record files removed outside dupecache",
	Long: `Record-deletion adds a deletion record to the history and forgets the
cached digests of the removed paths.

Each argument is a path, optionally followed by =SIZE (for example
/data/a.iso=4.2GB). Without a size the file is stat-ed, so either record
before removing it or pass the size.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			svc := a.audit()
			files, err := deletedFiles(svc, args)
			if err != nil {
				return err
			}

			rec, err := svc.RecordDeletion(cmd.Context(), audit.DeletionRequest{
				ScanID: deletionScanID,
				Files:  files,
			})
			if err != nil {
				return err
			}
			if deletionJSON {
				return writeJSON(os.Stdout, rec)
			}
			color.Green("Recorded deletion %s: %d files, %s recovered",
				rec.ID, len(rec.Paths), humanize.IBytes(uint64(rec.BytesRecovered)))
			return nil
		})
	},
}

func init() {
	recordDeletionCmd.Flags().StringVar(&deletionScanID, "scan", "", "id of the scan that reported the duplicates")
	recordDeletionCmd.Flags().BoolVar(&deletionJSON, "json", false, "print the deletion record as JSON")
	rootCmd.AddCommand(recordDeletionCmd)
}

// deletedFiles resolves every path[=size] argument into a DeletedFile
func deletedFiles(svc *audit.Service, args []string) ([]audit.DeletedFile, error) {
	files := make([]audit.DeletedFile, 0, len(args))
	var unsized []string
	for _, arg := range args {
		path, size, ok := splitSize(arg)
		if !ok {
			unsized = append(unsized, arg)
			continue
		}
		files = append(files, audit.DeletedFile{Path: path, Size: size})
	}

	if len(unsized) > 0 {
		captured, err := svc.CaptureSizes(unsized)
		if err != nil {
			return nil, fmt.Errorf("%w: %v (pass PATH=SIZE for files already removed)", domain.ErrInvalidInput, err)
		}
		files = append(files, captured...)
	}
	return files, nil
}

// splitSize parses a trailing =SIZE; a suffix that is not a size stays part of the path
func splitSize(arg string) (string, int64, bool) {
	i := strings.LastIndex(arg, "=")
	if i <= 0 {
		return arg, 0, false
	}
	n, err := humanize.ParseBytes(arg[i+1:])
	if err != nil {
		return arg, 0, false
	}
	return arg[:i], int64(n), true
}
