// Package config holds the engine's tunables: on-disk layout, memtable and
// SSTable sizing, compaction shape, durability, and bloom filter parameters.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for an opened database directory.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger" validate:"required"`
	Memtable    MemtableConfig    `yaml:"memtable" validate:"required"`
	Persistence PersistenceConfig `yaml:"persistence" validate:"required"`
	Compaction  CompactionConfig  `yaml:"compaction" validate:"required"`
	WAL         WALConfig         `yaml:"wal" validate:"required"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter" validate:"required"`
}

// LoggerConfig selects the slog handler used for the lifetime of the DB.
type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// MemtableConfig bounds the in-memory write buffer.
type MemtableConfig struct {
	// Capacity is memtable_capacity: the key-count cap that triggers minor compaction.
	Capacity int `yaml:"capacity" validate:"required,min=1"`
}

// PersistenceConfig covers on-disk layout.
type PersistenceConfig struct {
	RootPath string `yaml:"path" validate:"required"`
	// SSTableSizeCap is the maximum byte size of a single SSTable output file.
	SSTableSizeCap int64 `yaml:"sstable_size_cap" validate:"required,min=1"`
	// BlockSize is the on-disk data block size in bytes.
	BlockSize int32 `yaml:"block_size" validate:"required,min=64"`
	// CacheCapacity is the number of decoded data blocks cached in memory.
	CacheCapacity int `yaml:"cache_capacity" validate:"required,min=1"`
}

// CompactionConfig shapes the LSM tree.
type CompactionConfig struct {
	// Fanout is size_capacity_{L+1} / size_capacity_L for L >= 1.
	Fanout int `yaml:"fanout" validate:"required,min=2"`
	// RunCapacity is the max runs per level before horizontal compaction.
	RunCapacity int `yaml:"run_capacity" validate:"required,min=1"`
	// MaxLevel is the hard cap on tree depth.
	MaxLevel int `yaml:"max_level" validate:"required,min=1"`
}

// WALConfig controls the write-ahead log's durability policy.
type WALConfig struct {
	// Sync, when true, fsyncs after every record. When false, syncs are batched.
	Sync bool `yaml:"sync"`
}

// BloomFilterConfig names the fixed bloom filter parameters (§4.2).
type BloomFilterConfig struct {
	P float64 `yaml:"p" validate:"required,gt=0,lt=1"`
	K int     `yaml:"k" validate:"required,min=1"`
	M int     `yaml:"m" validate:"required,min=8"`
	N int     `yaml:"n" validate:"required,min=1"`
}

// Default returns the spec's documented defaults for a fresh database directory.
func Default(dir string) Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Memtable: MemtableConfig{
			Capacity: 512,
		},
		Persistence: PersistenceConfig{
			RootPath:       dir,
			SSTableSizeCap: 4 * 1024 * 1024,
			BlockSize:      4096,
			CacheCapacity:  256,
		},
		Compaction: CompactionConfig{
			Fanout:      10,
			RunCapacity: 4,
			MaxLevel:    7,
		},
		WAL: WALConfig{Sync: true},
		BloomFilter: BloomFilterConfig{
			P: 0.01,
			K: 7,
			M: 10000,
			N: 1000,
		},
	}
}

// Validate runs struct-tag validation over the whole config tree.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
