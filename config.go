package refstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the operator-facing configuration of the cluster storage and
// the local replica cache.
//
// Order: DefaultConfig -> LoadConfig (YAML) -> ApplyEnvOverrides -> Validate.
type Config struct {
	Cluster    ClusterConfig  `yaml:"cluster"`
	ScratchDir string         `yaml:"scratch_dir"`
	Build      BuildConfig    `yaml:"build"`
	Transfer   TransferConfig `yaml:"transfer"`
	Logging    LoggingConfig  `yaml:"logging"`
}

type ClusterConfig struct {
	Backend string `yaml:"backend"` // local, s3, minio

	// Root is the shared directory of the local backend.
	Root string `yaml:"root"`

	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`

	// LedgerTable names the DynamoDB claim table of the s3 backend.
	LedgerTable string `yaml:"ledger_table"`
}

type BuildConfig struct {
	MaxValueSize int `yaml:"max_value_size"`
	BatchSize    int `yaml:"batch_size"`
}

type TransferConfig struct {
	Compression    Compression `yaml:"compression"`
	BytesPerSecond int         `yaml:"bytes_per_second"`
	Parallelism    int         `yaml:"parallelism"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // text, json
	Verbose bool   `yaml:"verbose"`
}

const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

func DefaultConfig() Config {
	return Config{
		Cluster: ClusterConfig{
			Backend: BackendLocal,
			Root:    "refstore-cluster",
			Secure:  true,
		},
		ScratchDir: defaultScratchDir(),
		Build: BuildConfig{
			MaxValueSize: DefaultMaxValueSize,
			BatchSize:    defaultBatchSize,
		},
		Transfer: TransferConfig{
			Compression: CompressionNone,
			Parallelism: defaultPrefetchParallelism,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultScratchDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "refstore"
	}
	return os.TempDir() + string(os.PathSeparator) + "refstore"
}

// LoadConfig reads a YAML file on top of the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, configErrf(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, configErrf(err, "parsing %s", path)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies REFSTORE_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("REFSTORE_CLUSTER_BACKEND", &c.Cluster.Backend)
	str("REFSTORE_CLUSTER_ROOT", &c.Cluster.Root)
	str("REFSTORE_CLUSTER_BUCKET", &c.Cluster.Bucket)
	str("REFSTORE_CLUSTER_PREFIX", &c.Cluster.Prefix)
	str("REFSTORE_CLUSTER_ENDPOINT", &c.Cluster.Endpoint)
	str("REFSTORE_CLUSTER_REGION", &c.Cluster.Region)
	str("REFSTORE_CLUSTER_ACCESS_KEY", &c.Cluster.AccessKey)
	str("REFSTORE_CLUSTER_SECRET_KEY", &c.Cluster.SecretKey)
	flag("REFSTORE_CLUSTER_SECURE", &c.Cluster.Secure)
	str("REFSTORE_CLUSTER_LEDGER_TABLE", &c.Cluster.LedgerTable)
	str("REFSTORE_SCRATCH_DIR", &c.ScratchDir)
	num("REFSTORE_BUILD_MAX_VALUE_SIZE", &c.Build.MaxValueSize)
	num("REFSTORE_BUILD_BATCH_SIZE", &c.Build.BatchSize)
	if v := getenv("REFSTORE_TRANSFER_COMPRESSION"); v != "" {
		c.Transfer.Compression = Compression(v)
	}
	num("REFSTORE_TRANSFER_BYTES_PER_SECOND", &c.Transfer.BytesPerSecond)
	num("REFSTORE_TRANSFER_PARALLELISM", &c.Transfer.Parallelism)
	str("REFSTORE_LOG_LEVEL", &c.Logging.Level)
	str("REFSTORE_LOG_FORMAT", &c.Logging.Format)
	flag("REFSTORE_LOG_VERBOSE", &c.Logging.Verbose)

	if len(errs) > 0 {
		return configErrf(errors.Join(errs...), "invalid environment")
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Cluster.Backend {
	case BackendLocal:
		if c.Cluster.Root == "" {
			return configErrf(nil, "cluster.root is required for the local backend")
		}
	case BackendS3, BackendMinio:
		if c.Cluster.Bucket == "" {
			return configErrf(nil, "cluster.bucket is required for the %s backend", c.Cluster.Backend)
		}
		if c.Cluster.Backend == BackendMinio && c.Cluster.Endpoint == "" {
			return configErrf(nil, "cluster.endpoint is required for the minio backend")
		}
	default:
		return configErrf(nil, "unknown cluster.backend %q", c.Cluster.Backend)
	}
	if c.ScratchDir == "" {
		return configErrf(nil, "scratch_dir is required")
	}
	if c.Build.MaxValueSize < 0 || c.Build.BatchSize < 0 {
		return configErrf(nil, "build limits must not be negative")
	}
	comp, err := ParseCompression(string(c.Transfer.Compression))
	if err != nil {
		return configErrf(err, "transfer.compression")
	}
	c.Transfer.Compression = comp
	if c.Transfer.BytesPerSecond < 0 || c.Transfer.Parallelism < 0 {
		return configErrf(nil, "transfer limits must not be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return configErrf(err, "logging.level")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return configErrf(nil, "unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(s)))
	return level, err
}

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Logging.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) BuildOptions(ref Reference, codec Codec, caseSensitive bool, logger *slog.Logger) BuildOptions {
	return BuildOptions{
		Reference:     ref,
		Codec:         codec,
		CaseSensitive: caseSensitive,
		MaxValueSize:  c.Build.MaxValueSize,
		BatchSize:     c.Build.BatchSize,
		Logger:        logger,
		Verbose:       c.Logging.Verbose,
	}
}

func (c *Config) DistributorOptions(logger *slog.Logger) DistributorOptions {
	return DistributorOptions{
		Compression:         c.Transfer.Compression,
		BytesPerSecond:      c.Transfer.BytesPerSecond,
		PrefetchParallelism: c.Transfer.Parallelism,
		Logger:              logger,
		Verbose:             c.Logging.Verbose,
	}
}

func (c *Config) ManagerOptions(logger *slog.Logger) ManagerOptions {
	return ManagerOptions{
		ScratchDir: c.ScratchDir,
		Logger:     logger,
		Verbose:    c.Logging.Verbose,
	}
}
