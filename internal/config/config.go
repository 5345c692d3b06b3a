package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/vertextoedge/dupecache/internal/domain"
)

const (
	MinChunkSize = 4 * 1024
	MaxChunkSize = 64 * 1024 * 1024
	MaxWorkers   = 256

	EnvPrefix = "DUPECACHE"
)

// Config represents the entire application configuration
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Cache    CacheConfig    `mapstructure:"cache"`
	History  HistoryConfig  `mapstructure:"history"`
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Export   ExportConfig   `mapstructure:"export"`
}

// ScanConfig contains traversal, hashing and grouping settings
type ScanConfig struct {
	Roots             []string `mapstructure:"roots"`
	Algorithm         string   `mapstructure:"algorithm"`
	ChunkSize         string   `mapstructure:"chunk_size"`
	Workers           int      `mapstructure:"workers"`
	MinFileSize       string   `mapstructure:"min_file_size"`
	MaxFileSize       string   `mapstructure:"max_file_size"`
	Exclude           []string `mapstructure:"exclude"`
	IncludeHidden     bool     `mapstructure:"include_hidden"`
	IncludeSystem     bool     `mapstructure:"include_system"`
	FollowSymlinks    bool     `mapstructure:"follow_symlinks"`
	MinGroupSize      int      `mapstructure:"min_group_size"`
	MinGroupBytes     string   `mapstructure:"min_group_bytes"`
	Timeout           string   `mapstructure:"timeout"`
	ProgressInterval  string   `mapstructure:"progress_interval"`
	MaxRecordedErrors int      `mapstructure:"max_recorded_errors"`
	QuickHash         bool     `mapstructure:"quick_hash"`
	QuickHashSize     string   `mapstructure:"quick_hash_size"`
}

// CacheConfig contains hash cache settings
type CacheConfig struct {
	Path          string `mapstructure:"path"`
	HitRateWindow int    `mapstructure:"hit_rate_window"`
	MaxEntryAge   string `mapstructure:"max_entry_age"`
}

// HistoryConfig contains scan history settings
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig contains settings shared by both SQLite stores
type DatabaseConfig struct {
	CacheSizeMB   int `mapstructure:"cache_size_mb"`
	BusyTimeoutMs int `mapstructure:"busy_timeout_ms"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExportConfig contains export settings
type ExportConfig struct {
	Format string `mapstructure:"format"`
}

// Load loads configuration from the specified file path.
// An empty path uses defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", domain.ErrConfigInvalid, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", domain.ErrConfigInvalid, err)
	}

	if config.DataDir == "" {
		config.DataDir = defaultDataDir()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("scan.roots", []string{})
	v.SetDefault("scan.algorithm", string(domain.DefaultAlgorithm))
	v.SetDefault("scan.chunk_size", "64KiB")
	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.min_file_size", "0")
	v.SetDefault("scan.max_file_size", "0")
	v.SetDefault("scan.exclude", []string{})
	v.SetDefault("scan.include_hidden", false)
	v.SetDefault("scan.include_system", false)
	v.SetDefault("scan.follow_symlinks", false)
	v.SetDefault("scan.min_group_size", 2)
	v.SetDefault("scan.min_group_bytes", "0")
	v.SetDefault("scan.timeout", "0s")
	v.SetDefault("scan.progress_interval", "5s")
	v.SetDefault("scan.max_recorded_errors", 100)
	v.SetDefault("scan.quick_hash", false)
	v.SetDefault("scan.quick_hash_size", "64KiB")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.hit_rate_window", 1000)
	v.SetDefault("cache.max_entry_age", "0s")
	v.SetDefault("history.path", "")
	v.SetDefault("database.cache_size_mb", 64)
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("export.format", "json")
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "dupecache")
	}
	return ".dupecache"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Scan.validate(); err != nil {
		return err
	}

	if c.Cache.HitRateWindow < 1 {
		return domain.NewConfigError("cache.hit_rate_window", "must be at least 1")
	}
	if err := validateDuration("cache.max_entry_age", c.Cache.MaxEntryAge); err != nil {
		return err
	}

	if c.Database.BusyTimeoutMs < 0 {
		return domain.NewConfigError("database.busy_timeout_ms", "must not be negative")
	}
	if c.Database.CacheSizeMB < 0 {
		return domain.NewConfigError("database.cache_size_mb", "must not be negative")
	}

	for field, value := range map[string]string{
		"http.read_timeout":  c.HTTP.ReadTimeout,
		"http.write_timeout": c.HTTP.WriteTimeout,
		"http.idle_timeout":  c.HTTP.IdleTimeout,
	} {
		if err := validateDuration(field, value); err != nil {
			return err
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return domain.NewConfigError("logging.level", fmt.Sprintf("unsupported value %q", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return domain.NewConfigError("logging.format", fmt.Sprintf("unsupported value %q", c.Logging.Format))
	}

	switch c.Export.Format {
	case "json", "yaml":
	default:
		return domain.NewConfigError("export.format", fmt.Sprintf("unsupported value %q", c.Export.Format))
	}

	return nil
}

func (c *ScanConfig) validate() error {
	if _, err := domain.ParseAlgorithm(c.Algorithm); err != nil {
		return domain.NewConfigError("scan.algorithm", fmt.Sprintf("unsupported value %q", c.Algorithm))
	}

	chunk, err := parseSize("scan.chunk_size", c.ChunkSize)
	if err != nil {
		return err
	}
	if chunk < MinChunkSize || chunk > MaxChunkSize {
		return domain.NewConfigError("scan.chunk_size",
			fmt.Sprintf("must be between %s and %s", humanize.IBytes(MinChunkSize), humanize.IBytes(MaxChunkSize)))
	}

	if c.Workers < 0 || c.Workers > MaxWorkers {
		return domain.NewConfigError("scan.workers", fmt.Sprintf("must be between 0 and %d", MaxWorkers))
	}

	minSize, err := parseSize("scan.min_file_size", c.MinFileSize)
	if err != nil {
		return err
	}
	maxSize, err := parseSize("scan.max_file_size", c.MaxFileSize)
	if err != nil {
		return err
	}
	if maxSize > 0 && maxSize < minSize {
		return domain.NewConfigError("scan.max_file_size", "must not be smaller than scan.min_file_size")
	}

	for _, pattern := range c.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return domain.NewConfigError("scan.exclude", fmt.Sprintf("bad pattern %q", pattern))
		}
	}

	if c.MinGroupSize < 2 {
		return domain.NewConfigError("scan.min_group_size", "must be at least 2")
	}
	if _, err := parseSize("scan.min_group_bytes", c.MinGroupBytes); err != nil {
		return err
	}

	if err := validateDuration("scan.timeout", c.Timeout); err != nil {
		return err
	}
	if err := validateDuration("scan.progress_interval", c.ProgressInterval); err != nil {
		return err
	}
	if c.MaxRecordedErrors < 0 {
		return domain.NewConfigError("scan.max_recorded_errors", "must not be negative")
	}
	quick, err := parseSize("scan.quick_hash_size", c.QuickHashSize)
	if err != nil {
		return err
	}
	if quick < MinChunkSize || quick > MaxChunkSize {
		return domain.NewConfigError("scan.quick_hash_size",
			fmt.Sprintf("must be between %s and %s", humanize.IBytes(MinChunkSize), humanize.IBytes(MaxChunkSize)))
	}

	return nil
}

func parseSize(field, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, domain.NewConfigError(field, fmt.Sprintf("bad size %q", value))
	}
	if n > 1<<62 {
		return 0, domain.NewConfigError(field, fmt.Sprintf("size %q out of range", value))
	}
	return int64(n), nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return domain.NewConfigError(field, fmt.Sprintf("bad duration %q", value))
	}
	if d < 0 {
		return domain.NewConfigError(field, "must not be negative")
	}
	return nil
}

func mustSize(value string) int64 {
	n, _ := humanize.ParseBytes(value)
	return int64(n)
}

func duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}

// CachePath returns the hash cache database path
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(c.DataDir, "hash_cache.db")
}

// HistoryPath returns the history database path
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.DataDir, "history.db")
}

// GetAlgorithm returns the configured algorithm
func (c *ScanConfig) GetAlgorithm() domain.Algorithm {
	a, err := domain.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return domain.DefaultAlgorithm
	}
	return a
}

// GetChunkSize returns the read chunk size in bytes
func (c *ScanConfig) GetChunkSize() int {
	n := mustSize(c.ChunkSize)
	if n == 0 {
		return 64 * 1024
	}
	return int(n)
}

// GetWorkers returns the hashing pool size
func (c *ScanConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// GetMinGroupBytes returns the aggregate size floor for a group
func (c *ScanConfig) GetMinGroupBytes() int64 {
	return mustSize(c.MinGroupBytes)
}

// GetQuickHashSize returns the prefix length of a quick digest
func (c *ScanConfig) GetQuickHashSize() int64 {
	return mustSize(c.QuickHashSize)
}

// GetTimeout returns the whole-scan timeout; zero means none
func (c *ScanConfig) GetTimeout() time.Duration {
	return duration(c.Timeout, 0)
}

// GetProgressInterval returns the progress log cadence
func (c *ScanConfig) GetProgressInterval() time.Duration {
	return duration(c.ProgressInterval, 5*time.Second)
}

// Filter returns the walker filter options
func (c *ScanConfig) Filter() domain.FilterOptions {
	return domain.FilterOptions{
		Exclude:        append([]string(nil), c.Exclude...),
		MinSize:        mustSize(c.MinFileSize),
		MaxSize:        mustSize(c.MaxFileSize),
		IncludeHidden:  c.IncludeHidden,
		IncludeSystem:  c.IncludeSystem,
		FollowSymlinks: c.FollowSymlinks,
	}
}

// GetMaxEntryAge returns the compaction age cutoff; zero disables it
func (c *CacheConfig) GetMaxEntryAge() time.Duration {
	return duration(c.MaxEntryAge, 0)
}

// GetBusyTimeout returns how long a store waits on a lock
func (c *DatabaseConfig) GetBusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return duration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return duration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return duration(c.IdleTimeout, 60*time.Second)
}
