package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vertextoedge/dupecache/internal/adapter/filesystem"
	"github.com/vertextoedge/dupecache/internal/adapter/sqlite"
	"github.com/vertextoedge/dupecache/internal/config"
	"github.com/vertextoedge/dupecache/internal/logger"
	"github.com/vertextoedge/dupecache/internal/service/audit"
	"github.com/vertextoedge/dupecache/internal/service/maintenance"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "dupecache",
	Short: "Find duplicate files with a persistent hash cache",
	Long: `dupecache walks directory trees, hashes file contents and groups
identical files. Digests are cached by path, size and modification time so
rescans only read files that changed. Every scan is kept in a history that
also records the deletions you report back.

dupecache never deletes anything itself.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (json, text)")
}

// app holds the stores and services shared by every subcommand
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	fs      *filesystem.Manager
	cache   *sqlite.HashCache
	history *sqlite.HistoryStore
}

// openApp loads configuration and opens both stores
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	fs := filesystem.NewOSManager()
	dbOpts := sqlite.Options{
		BusyTimeout: cfg.Database.GetBusyTimeout(),
		CacheSizeMB: cfg.Database.CacheSizeMB,
	}

	cache, err := sqlite.OpenHashCache(cfg.CachePath(), sqlite.HashCacheOptions{
		Options:       dbOpts,
		HitRateWindow: cfg.Cache.HitRateWindow,
		MaxEntryAge:   cfg.Cache.GetMaxEntryAge(),
		FileSystem:    fs,
	})
	if err != nil {
		log.Error("failed to open hash cache", zap.String("path", cfg.CachePath()), zap.Error(err))
		return nil, err
	}

	history, err := sqlite.OpenHistory(cfg.HistoryPath(), dbOpts)
	if err != nil {
		log.Error("failed to open history", zap.String("path", cfg.HistoryPath()), zap.Error(err))
		cache.Close()
		return nil, err
	}

	log.Debug("stores opened",
		zap.String("cache", cfg.CachePath()),
		zap.String("history", cfg.HistoryPath()))

	return &app{
		cfg:     cfg,
		logger:  log,
		fs:      fs,
		cache:   cache,
		history: history,
	}, nil
}

func (a *app) audit() *audit.Service {
	return audit.New(a.history, a.cache, a.fs, a.logger)
}

func (a *app) maintenance() *maintenance.Service {
	return maintenance.New(a.cache, a.history, a.logger)
}

// Close shuts both stores down and flushes the logger
func (a *app) Close() error {
	err := multierr.Combine(a.history.Close(), a.cache.Close())
	_ = a.logger.Sync()
	return err
}

// withApp runs fn against an opened app and closes it afterwards
func withApp(fn func(a *app) error) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	return fn(a)
}
