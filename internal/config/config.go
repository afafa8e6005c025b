// Package config provides configuration loading and validation for helixd.
// A YAML file is decoded strictly on top of the defaults; HELIX_* variables,
// bound through viper, override single keys on top of that.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "HELIX_CONFIG"

// Config holds all configuration for helixd.
type Config struct {
	Metadata      MetadataConfig      `yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Report        ReportConfig        `yaml:"report"`
	Prune         PruneConfig         `yaml:"prune"`
	SearchIndex   SearchIndexConfig   `yaml:"searchIndex"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Metadata backends.
const (
	MetadataOxia   = "oxia"
	MetadataMemory = "memory"
)

type MetadataConfig struct {
	Backend        string        `yaml:"backend"`
	OxiaEndpoint   string        `yaml:"oxiaEndpoint"`
	Namespace      string        `yaml:"namespace"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// ObjectStoreConfig configures S3 access for s3:// report locations. The
// bucket comes from the location itself.
type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

type ReportConfig struct {
	// OutputDir is a directory or an s3://bucket/prefix location.
	OutputDir   string `yaml:"outputDir"`
	Codec       string `yaml:"codec"`
	PartRecords int    `yaml:"partRecords"`
	// Parquet also exports each finished report as a parquet file.
	Parquet bool `yaml:"parquet"`

	// KeepRuns enables retention after every prune: only the newest KeepRuns
	// runs survive, plus any younger than MaxAge. Zero disables it.
	KeepRuns int           `yaml:"keepRuns"`
	MaxAge   time.Duration `yaml:"maxAge"`
}

type PruneConfig struct {
	Workers           int    `yaml:"workers"`
	BatchSize         int    `yaml:"batchSize"`
	PartitionWindow   uint64 `yaml:"partitionWindow"`
	VerifierLimit     int64  `yaml:"verifierLimit"`
	VerifierWorkers   int    `yaml:"verifierWorkers"`
	VerifierBatchSize int    `yaml:"verifierBatchSize"`
}

// Search index backends.
const (
	SearchIndexSolr   = "solr"
	SearchIndexSQLite = "sqlite"
	SearchIndexNone   = "none"
)

type SearchIndexConfig struct {
	Backend           string        `yaml:"backend"`
	URL               string        `yaml:"url"`
	Collection        string        `yaml:"collection"`
	SQLitePath        string        `yaml:"sqlitePath"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	MaxRetries        uint64        `yaml:"maxRetries"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ReconcileConfig struct {
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batchSize"`
	Interval  time.Duration `yaml:"interval"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"clientId"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Metadata: MetadataConfig{
			Backend:        MetadataOxia,
			OxiaEndpoint:   "localhost:6648",
			Namespace:      "helix",
			RequestTimeout: 30 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
		},
		Report: ReportConfig{
			OutputDir:   "reports",
			Codec:       "gzip",
			PartRecords: 100000,
		},
		Prune: PruneConfig{
			Workers:           8,
			BatchSize:         1000,
			PartitionWindow:   10_000_000, // 10 Mbp
			VerifierLimit:     1_000_000,
			VerifierWorkers:   8,
			VerifierBatchSize: 500,
		},
		SearchIndex: SearchIndexConfig{
			Backend:           SearchIndexNone,
			Collection:        "variants",
			RequestsPerSecond: 20,
			MaxRetries:        5,
			Timeout:           30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Workers:   4,
			BatchSize: 500,
			Interval:  5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:    "helix.prune.report",
			ClientID: "helixd",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads the file named by HELIX_CONFIG, or only applies environment
// overrides to the defaults when it is unset.
func Load() (*Config, error) {
	if path := os.Getenv(PathEnv); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML config file on top of the defaults and then
// applies environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and applies environment overrides.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBindings maps config keys to the variables that override them.
var envBindings = []struct{ key, env string }{
	{"metadata.backend", "HELIX_METADATA_BACKEND"},
	{"metadata.oxiaEndpoint", "HELIX_OXIA_ENDPOINT"},
	{"metadata.namespace", "HELIX_OXIA_NAMESPACE"},
	{"metadata.requestTimeout", "HELIX_OXIA_REQUEST_TIMEOUT"},

	{"objectStore.endpoint", "HELIX_S3_ENDPOINT"},
	{"objectStore.region", "HELIX_S3_REGION"},
	{"objectStore.accessKey", "HELIX_S3_ACCESS_KEY"},
	{"objectStore.secretKey", "HELIX_S3_SECRET_KEY"},
	{"objectStore.usePathStyle", "HELIX_S3_PATH_STYLE"},

	{"report.outputDir", "HELIX_REPORT_OUTPUT_DIR"},
	{"report.codec", "HELIX_REPORT_CODEC"},
	{"report.partRecords", "HELIX_REPORT_PART_RECORDS"},
	{"report.parquet", "HELIX_REPORT_PARQUET"},
	{"report.keepRuns", "HELIX_REPORT_KEEP_RUNS"},
	{"report.maxAge", "HELIX_REPORT_MAX_AGE"},

	{"prune.workers", "HELIX_PRUNE_WORKERS"},
	{"prune.batchSize", "HELIX_PRUNE_BATCH_SIZE"},
	{"prune.partitionWindow", "HELIX_PRUNE_PARTITION_WINDOW"},
	{"prune.verifierLimit", "HELIX_PRUNE_VERIFIER_LIMIT"},
	{"prune.verifierWorkers", "HELIX_PRUNE_VERIFIER_WORKERS"},
	{"prune.verifierBatchSize", "HELIX_PRUNE_VERIFIER_BATCH_SIZE"},

	{"searchIndex.backend", "HELIX_SEARCH_BACKEND"},
	{"searchIndex.url", "HELIX_SOLR_URL"},
	{"searchIndex.collection", "HELIX_SOLR_COLLECTION"},
	{"searchIndex.sqlitePath", "HELIX_SQLITE_PATH"},
	{"searchIndex.requestsPerSecond", "HELIX_SOLR_RPS"},
	{"searchIndex.maxRetries", "HELIX_SOLR_MAX_RETRIES"},
	{"searchIndex.timeout", "HELIX_SOLR_TIMEOUT"},

	{"reconcile.workers", "HELIX_RECONCILE_WORKERS"},
	{"reconcile.batchSize", "HELIX_RECONCILE_BATCH_SIZE"},
	{"reconcile.interval", "HELIX_RECONCILE_INTERVAL"},

	{"kafka.enabled", "HELIX_KAFKA_ENABLED"},
	{"kafka.brokers", "HELIX_KAFKA_BROKERS"},
	{"kafka.topic", "HELIX_KAFKA_TOPIC"},
	{"kafka.clientId", "HELIX_KAFKA_CLIENT_ID"},

	{"observability.metricsAddr", "HELIX_METRICS_ADDR"},
	{"observability.logLevel", "HELIX_LOG_LEVEL"},
	{"observability.logFormat", "HELIX_LOG_FORMAT"},
}

// envDecodeHook parses durations and comma-separated lists. Blank list
// items are dropped.
var envDecodeHook = mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.DecodeHookFuncType(func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string(nil)) {
			return data, nil
		}
		var items []string
		for _, item := range strings.Split(data.(string), ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}),
)

// applyEnv overlays every set, non-empty override variable on c. Each
// variable is decoded on its own so that a bad value names its variable.
func (c *Config) applyEnv() error {
	env := viper.New()
	for _, b := range envBindings {
		if err := env.BindEnv(b.key, b.env); err != nil {
			return fmt.Errorf("config: bind %s: %w", b.env, err)
		}
	}

	for _, b := range envBindings {
		if !env.IsSet(b.key) {
			continue
		}
		override := viper.New()
		override.Set(b.key, env.Get(b.key))
		err := override.Unmarshal(c, viper.DecodeHook(envDecodeHook), func(dc *mapstructure.DecoderConfig) {
			dc.TagName = "yaml"
			dc.ZeroFields = true // a list replaces the default, never merges into it
		})
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", b.env, env.GetString(b.key), err)
		}
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var merr *multierror.Error
	add := func(format string, args ...any) {
		merr = multierror.Append(merr, fmt.Errorf(format, args...))
	}

	switch c.Metadata.Backend {
	case MetadataOxia:
		if c.Metadata.OxiaEndpoint == "" {
			add("metadata.oxiaEndpoint is required for the oxia backend")
		}
		if c.Metadata.Namespace == "" {
			add("metadata.namespace is required for the oxia backend")
		}
	case MetadataMemory:
	default:
		add("metadata.backend: unknown backend %q", c.Metadata.Backend)
	}

	if c.Report.PartRecords <= 0 {
		add("report.partRecords must be positive")
	}
	switch c.Report.Codec {
	case "", "none", "gzip", "zstd", "lz4", "snappy":
	default:
		add("report.codec: unknown codec %q", c.Report.Codec)
	}
	if c.Report.KeepRuns < 0 || c.Report.MaxAge < 0 {
		add("report.keepRuns and report.maxAge must not be negative")
	}

	if c.Prune.Workers <= 0 || c.Prune.BatchSize <= 0 {
		add("prune.workers and prune.batchSize must be positive")
	}
	if c.Prune.VerifierLimit <= 0 || c.Prune.VerifierWorkers <= 0 || c.Prune.VerifierBatchSize <= 0 {
		add("prune verifier settings must be positive")
	}

	switch c.SearchIndex.Backend {
	case SearchIndexSolr:
		if c.SearchIndex.URL == "" || c.SearchIndex.Collection == "" {
			add("searchIndex.url and searchIndex.collection are required for solr")
		}
	case SearchIndexSQLite:
		if c.SearchIndex.SQLitePath == "" {
			add("searchIndex.sqlitePath is required for sqlite")
		}
	case SearchIndexNone:
	default:
		add("searchIndex.backend: unknown backend %q", c.SearchIndex.Backend)
	}

	if c.Reconcile.Workers <= 0 || c.Reconcile.BatchSize <= 0 {
		add("reconcile.workers and reconcile.batchSize must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		add("reconcile.interval must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			add("kafka.topic is required when kafka is enabled")
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
