package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/dupecache/internal/domain"
	"github.com/vertextoedge/dupecache/internal/service/exporter"
)

var (
	exportOutput string
	exportFormat string
	exportScans  int
	exportEnv    []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write recent scans and cache statistics to a JSON or YAML document",
	Long: `Export writes a self-describing document with the most recent scans,
cache statistics and aggregate history. The destination is replaced
atomically. Use --output - to write to stdout.

The format follows --format, then the file extension, then export.format
from the configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := parseEnv(exportEnv)
		if err != nil {
			return err
		}

		return withApp(func(a *app) error {
			fallback, err := exporter.ParseFormat(a.cfg.Export.Format)
			if err != nil {
				return err
			}
			format := exporter.FormatForPath(exportOutput, fallback)
			if cmd.Flags().Changed("format") {
				if format, err = exporter.ParseFormat(exportFormat); err != nil {
					return err
				}
			}

			svc := exporter.New(a.cache, a.history, a.fs, version, a.logger)
			scope := exporter.Scope{ScanLimit: exportScans}

			if exportOutput == "-" {
				doc, err := svc.Build(cmd.Context(), scope, env)
				if err != nil {
					return err
				}
				return exporter.Encode(os.Stdout, doc, format)
			}

			doc, err := svc.Export(cmd.Context(), scope, env, exportOutput, format)
			if err != nil {
				return err
			}
			color.Green("Exported %d scans to %s (%s)", len(doc.Scans), exportOutput, format)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "destination file, or - for stdout")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "document format (json, yaml)")
	exportCmd.Flags().IntVarP(&exportScans, "scans", "n", 10, "number of recent scans to include (0 for all)")
	exportCmd.Flags().StringArrayVar(&exportEnv, "env", nil, "extra environment entry as key=value (repeatable)")
	_ = exportCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(exportCmd)
}

// parseEnv builds the environment block from the host and key=value flags
func parseEnv(entries []string) (map[string]any, error) {
	env := map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		env["hostname"] = host
	}
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: --env %q is not key=value", domain.ErrInvalidInput, e)
		}
		env[key] = value
	}
	return env, nil
}
