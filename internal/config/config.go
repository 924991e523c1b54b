// Package config loads codeindex settings from defaults, a config file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dshills/codeindex/internal/chunker"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/filter"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/logging"
	"github.com/dshills/codeindex/internal/scheduler"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/internal/storage"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CODEINDEX_EMBEDDER_PROVIDER
	EnvPrefix = "CODEINDEX"

	// FileName is the config file looked up in the workspace root
	FileName = ".codeindex"

	// DefaultEnvFile is loaded before the environment is read, when present
	DefaultEnvFile = ".env"
)

// Config is the complete settings tree
type Config struct {
	Root     string         `mapstructure:"root"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Chunker  ChunkerConfig  `mapstructure:"chunker"`
	Index    IndexConfig    `mapstructure:"index"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Search   SearchConfig   `mapstructure:"search"`

	// File is the config file that was read, if any
	File string `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	// Dir defaults to <root>/.codeindex
	Dir string `mapstructure:"dir"`
}

type EmbedderConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
	CacheSize int    `mapstructure:"cache_size"`
	BatchSize int    `mapstructure:"batch_size"`
}

type ChunkerConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
	Overlap      int `mapstructure:"overlap"`
}

type IndexConfig struct {
	Workers        int      `mapstructure:"workers"`
	SkipLowSignal  bool     `mapstructure:"skip_low_signal"`
	MaxFileBytes   int64    `mapstructure:"max_file_bytes"`
	TextExtensions []string `mapstructure:"text_extensions"`
	Ignore         []string `mapstructure:"ignore"`
}

type WatchConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	BurstThreshold int           `mapstructure:"burst_threshold"`
	BurstDelay     time.Duration `mapstructure:"burst_delay"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	BusyRetry      time.Duration `mapstructure:"busy_retry"`
}

type SearchConfig struct {
	CacheSize    int `mapstructure:"cache_size"`
	DefaultLimit int `mapstructure:"default_limit"`
}

// Options controls where Load looks
type Options struct {
	// ConfigFile is an explicit config file; it must exist when set
	ConfigFile string

	// EnvFile is a dotenv file; empty selects DefaultEnvFile. A missing file is ignored.
	EnvFile string

	// Bind runs before anything is read, typically to bind cobra flags
	Bind func(v *viper.Viper) error
}

// setDefaults registers every key, which also makes each key visible to AutomaticEnv
func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)

	v.SetDefault("storage.backend", string(storage.BackendJSON))
	v.SetDefault("storage.dir", "")

	v.SetDefault("embedder.provider", "")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.dimension", 0)
	v.SetDefault("embedder.cache_size", embedder.DefaultCacheSize)
	v.SetDefault("embedder.batch_size", embedder.DefaultBatchSize)

	v.SetDefault("chunker.max_chunk_size", chunker.DefaultMaxChunkSize)
	v.SetDefault("chunker.min_chunk_size", chunker.DefaultMinChunkSize)
	v.SetDefault("chunker.overlap", chunker.DefaultOverlap)

	v.SetDefault("index.workers", 0)
	v.SetDefault("index.skip_low_signal", false)
	v.SetDefault("index.max_file_bytes", filter.DefaultMaxFileBytes)
	v.SetDefault("index.text_extensions", filter.DefaultTextExtensions)
	v.SetDefault("index.ignore", []string{})

	v.SetDefault("watch.debounce", scheduler.DefaultDebounce)
	v.SetDefault("watch.burst_threshold", scheduler.DefaultBurstThreshold)
	v.SetDefault("watch.burst_delay", scheduler.DefaultBurstDelay)
	v.SetDefault("watch.cooldown", scheduler.DefaultCooldown)
	v.SetDefault("watch.busy_retry", scheduler.DefaultBusyRetry)

	v.SetDefault("search.cache_size", searcher.DefaultCacheSize)
	v.SetDefault("search.default_limit", searcher.DefaultLimit)
}

// Load reads the configuration and validates it
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Bind != nil {
		if err := opts.Bind(v); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("root"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", cfg.Root, err)
	}
	cfg.Root = root
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(root, storage.DefaultDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	info, err := os.Stat(c.Root)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("root: %w", err))
	case !info.IsDir():
		errs = append(errs, fmt.Errorf("root: %s is not a directory", c.Root))
	}

	if err := c.LoggingConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	switch storage.Backend(c.Storage.Backend) {
	case storage.BackendJSON, storage.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}

	switch strings.ToLower(c.Embedder.Provider) {
	case "", embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("embedder.provider: unknown provider %q", c.Embedder.Provider))
	}
	if c.Embedder.Dimension < 0 {
		errs = append(errs, errors.New("embedder.dimension: cannot be negative"))
	}
	if c.Embedder.BatchSize <= 0 {
		errs = append(errs, errors.New("embedder.batch_size: must be positive"))
	}

	if err := c.ChunkerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunker: %w", err))
	}

	if c.Index.Workers < 0 {
		errs = append(errs, errors.New("index.workers: cannot be negative"))
	}
	if c.Index.MaxFileBytes <= 0 {
		errs = append(errs, errors.New("index.max_file_bytes: must be positive"))
	}
	for _, ext := range c.Index.TextExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("index.text_extensions: %q must start with a dot", ext))
		}
	}

	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("watch: %w", err))
	}

	if c.Search.CacheSize < 0 {
		errs = append(errs, errors.New("search.cache_size: cannot be negative"))
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > searcher.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit: must be in [1, %d]", searcher.MaxLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

func (c *Config) ChunkerConfig() chunker.Config {
	return chunker.Config{
		MaxChunkSize: c.Chunker.MaxChunkSize,
		MinChunkSize: c.Chunker.MinChunkSize,
		Overlap:      c.Chunker.Overlap,
	}
}

func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		Model:     c.Embedder.Model,
		APIKey:    c.Embedder.APIKey,
		BaseURL:   c.Embedder.BaseURL,
		Dimension: c.Embedder.Dimension,
		CacheSize: c.Embedder.CacheSize,
	}
}

func (c *Config) FilterConfig() filter.Config {
	return filter.Config{
		MaxFileBytes:   c.Index.MaxFileBytes,
		TextExtensions: c.Index.TextExtensions,
		Patterns:       c.Index.Ignore,
	}
}

func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		Workers:       c.Index.Workers,
		BatchSize:     c.Embedder.BatchSize,
		SkipLowSignal: c.Index.SkipLowSignal,
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Root:           c.Root,
		Debounce:       c.Watch.Debounce,
		BurstThreshold: c.Watch.BurstThreshold,
		BurstDelay:     c.Watch.BurstDelay,
		Cooldown:       c.Watch.Cooldown,
		BusyRetry:      c.Watch.BusyRetry,
	}
}
