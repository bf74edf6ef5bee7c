// Package config handles storage-engine configuration via environment
// variables or a YAML file.
//
// Configuration is loaded with LoadFromEnv() or LoadFromFile() and should
// be validated with Validate() before a GraphHandle is opened with it.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the storage engine (C1-C10) reads at open time.
type Config struct {
	// WALPath is the write-ahead log file path. Empty disables durability:
	// the engine runs in-memory only, useful for tests.
	WALPath string `yaml:"wal_path"`

	// CheckpointDir is where checkpoint files are written (§4.7).
	CheckpointDir string `yaml:"checkpoint_dir"`
	// CheckpointFilePrefix names the checkpoint file family under
	// CheckpointDir (files are named "<prefix>.<ts>").
	CheckpointFilePrefix string `yaml:"checkpoint_file_prefix"`
	// MaxCheckpoints bounds how many checkpoint files are retained.
	MaxCheckpoints int `yaml:"max_checkpoints"`
	// AutoCheckpointIntervalSecs triggers a checkpoint on commit once this
	// many seconds have elapsed since the last one; 0 disables auto-trigger.
	AutoCheckpointIntervalSecs int64 `yaml:"auto_checkpoint_interval_secs"`

	// GCTriggerThreshold is the number of commits between cooperative
	// garbage collection passes (§4.5).
	GCTriggerThreshold int `yaml:"gc_trigger_threshold"`

	// IteratorBatchSize is checked by Validate to be positive. The storage
	// iterators (§4.6) do not read it; when a caller passes zero they use
	// their own built-in batch size of 256.
	IteratorBatchSize int `yaml:"iterator_batch_size"`

	// ANNSelectivityThreshold is the pre-filter selectivity above which a
	// vector index probe should fall back to brute-force scanning (C10).
	ANNSelectivityThreshold float64 `yaml:"ann_selectivity_threshold"`

	// TransactionTimeoutSecs is an implementation-option hint (§5
	// "Cancellation") the manager MAY use to forcibly abort stale
	// transactions blocking a checkpoint; 0 disables it.
	TransactionTimeoutSecs int64 `yaml:"transaction_timeout_secs"`

	// CatalogDir is the Badger directory backing the label-name<->LabelId
	// cache (pkg/catalog).
	CatalogDir string `yaml:"catalog_dir"`
	// LabelMemCacheSize bounds the in-process LRU layer in front of Badger.
	LabelMemCacheSize int `yaml:"label_mem_cache_size"`

	// FilterCacheMaxEntries bounds the ANN FilterMask cache (C10).
	FilterCacheMaxEntries int64 `yaml:"filter_cache_max_entries"`

	// AuditLogPath enables the transaction-lifecycle audit log (pkg/audit)
	// when set; empty disables it.
	AuditLogPath string `yaml:"audit_log_path"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the engine-wide structured logger (A.1).
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `yaml:"level"`
	// Output is stdout, stderr, or a file path.
	Output string `yaml:"output"`
}

// LoadFromEnv loads configuration from environment variables, all prefixed
// MINIGU_, falling back to defaults suitable for an in-memory, no-durability
// engine when unset.
func LoadFromEnv() *Config {
	cfg := &Config{
		WALPath:                    getEnv("MINIGU_WAL_PATH", ""),
		CheckpointDir:              getEnv("MINIGU_CHECKPOINT_DIR", "./checkpoints"),
		CheckpointFilePrefix:       getEnv("MINIGU_CHECKPOINT_PREFIX", "checkpoint"),
		MaxCheckpoints:             getEnvInt("MINIGU_MAX_CHECKPOINTS", 3),
		AutoCheckpointIntervalSecs: getEnvInt64("MINIGU_AUTO_CHECKPOINT_INTERVAL_SECS", 0),
		GCTriggerThreshold:         getEnvInt("MINIGU_GC_TRIGGER_THRESHOLD", 256),
		IteratorBatchSize:          getEnvInt("MINIGU_ITERATOR_BATCH_SIZE", 256),
		ANNSelectivityThreshold:    getEnvFloat("MINIGU_ANN_SELECTIVITY_THRESHOLD", 0.3),
		TransactionTimeoutSecs:     getEnvInt64("MINIGU_TRANSACTION_TIMEOUT_SECS", 0),
		CatalogDir:                 getEnv("MINIGU_CATALOG_DIR", "./catalog"),
		LabelMemCacheSize:          getEnvInt("MINIGU_LABEL_MEM_CACHE_SIZE", 4096),
		FilterCacheMaxEntries:      getEnvInt64("MINIGU_FILTER_CACHE_MAX_ENTRIES", 1024),
		AuditLogPath:               getEnv("MINIGU_AUDIT_LOG_PATH", ""),
		Logging: LoggingConfig{
			Level:  getEnv("MINIGU_LOG_LEVEL", "INFO"),
			Output: getEnv("MINIGU_LOG_OUTPUT", "stdout"),
		},
	}
	return cfg
}

// LoadFromFile reads a YAML config file, starting from the same defaults
// LoadFromEnv would produce so a file only needs to name the fields it
// overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := LoadFromEnv()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values before a
// GraphHandle opens with it.
func (c *Config) Validate() error {
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("max_checkpoints must be positive, got %d", c.MaxCheckpoints)
	}
	if c.GCTriggerThreshold <= 0 {
		return fmt.Errorf("gc_trigger_threshold must be positive, got %d", c.GCTriggerThreshold)
	}
	if c.IteratorBatchSize <= 0 {
		return fmt.Errorf("iterator_batch_size must be positive, got %d", c.IteratorBatchSize)
	}
	if c.ANNSelectivityThreshold < 0 || c.ANNSelectivityThreshold > 1 {
		return fmt.Errorf("ann_selectivity_threshold must be in [0,1], got %v", c.ANNSelectivityThreshold)
	}
	if c.AutoCheckpointIntervalSecs < 0 {
		return fmt.Errorf("auto_checkpoint_interval_secs must be >= 0, got %d", c.AutoCheckpointIntervalSecs)
	}
	if c.WALPath != "" && c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint_dir must be set when wal_path is set")
	}
	return nil
}

// String returns a log-safe summary (no paths a multi-tenant operator
// might consider sensitive are omitted here, unlike the teacher's
// credential-scrubbing String(), since this config carries none).
func (c *Config) String() string {
	return fmt.Sprintf("Config{WAL: %s, Checkpoints: %s (keep %d), GCEvery: %d}",
		orNone(c.WALPath), c.CheckpointDir, c.MaxCheckpoints, c.GCTriggerThreshold)
}

func orNone(s string) string {
	if s == "" {
		return "(in-memory)"
	}
	return s
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
