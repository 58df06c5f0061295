// Package config loads this module's demo configuration, adapted from the
// teacher's internal/config.go (NovaSqlConfig/LoadConfig) with fields
// renamed for the hash-index domain.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DiskHashConfig is the top-level YAML config shape for cmd/hashdemo.
type DiskHashConfig struct {
	Storage struct {
		DataFile string `mapstructure:"data_file"`
		LogFile  string `mapstructure:"log_file"`
	} `mapstructure:"storage"`

	BufferPool struct {
		PoolSize int `mapstructure:"pool_size"`
	} `mapstructure:"buffer_pool"`

	HashTable struct {
		InitialTableSize uint32 `mapstructure:"initial_table_size"`
	} `mapstructure:"hash_table"`
}

// LoadConfig reads and unmarshals a YAML config file at path.
func LoadConfig(path string) (*DiskHashConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("buffer_pool.pool_size", 64)
	v.SetDefault("hash_table.initial_table_size", 128)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DiskHashConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
