// Package config defines the node configuration, loaded from YAML over
// defaults and threaded explicitly through every constructor.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the full node configuration.
type Config struct {
	Aleph      AlephConfig      `yaml:"aleph"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Storage    StorageConfig    `yaml:"storage"`
	IPFS       IPFSConfig       `yaml:"ipfs"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AlephConfig tunes the ingestion and processing pipelines.
type AlephConfig struct {
	// MaxConcurrency bounds simultaneous message processing across all
	// types; the per-type map below narrows it for individual types.
	MaxConcurrency  int            `yaml:"max_concurrency"`
	TypeConcurrency map[string]int `yaml:"type_concurrency"`

	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// SeenIDsSize bounds the per-worker window of recently expanded content
	// hashes and logical keys.
	SeenIDsSize int `yaml:"seen_ids_size"`
	// PendingHighWater triggers the duplicate sweep over pending_messages.
	PendingHighWater int `yaml:"pending_high_water"`

	// StoreQuotaMib caps the total pinned size per address for store
	// messages. Zero disables the quota.
	StoreQuotaMib int64 `yaml:"store_quota_mib"`

	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	PinTimeout      time.Duration `yaml:"pin_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BulkThreshold is the serialized envelope size above which outgoing
	// batches move off-chain.
	BulkThreshold int `yaml:"bulk_threshold"`

	// ScanInterval paces the periodic pending-table scans.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// PostgresConfig locates the relational store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Database, c.PoolSize)
}

// RabbitMQConfig locates the broker and names the sync topology.
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	PendingTxExchange      string `yaml:"pending_tx_exchange"`
	PendingMessageExchange string `yaml:"pending_message_exchange"`
	ProcessedExchange      string `yaml:"processed_exchange"`

	Prefetch int `yaml:"prefetch"`
}

// URL renders the AMQP dial string.
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Username, c.Password, c.Host, c.Port)
}

// StorageConfig locates the local content-addressed store.
type StorageConfig struct {
	Folder string `yaml:"folder"`
}

// IPFSConfig locates the IPFS daemon API.
type IPFSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr renders the HTTP API address of the IPFS daemon.
func (c IPFSConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringConfig locates the metrics/health HTTP listener.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Aleph: AlephConfig{
			MaxConcurrency:   20,
			MaxRetries:       10,
			BackoffBase:      5 * time.Second,
			BackoffCap:       5 * time.Minute,
			SeenIDsSize:      10_000,
			PendingHighWater: 100_000,
			FetchTimeout:     60 * time.Second,
			PinTimeout:       120 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			BulkThreshold:    2000,
			ScanInterval:     5 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "aleph",
			Password: "decentralize-everything",
			Database: "aleph",
			PoolSize: 10,
		},
		RabbitMQ: RabbitMQConfig{
			Host:                   "127.0.0.1",
			Port:                   5672,
			Username:               "guest",
			Password:               "guest",
			PendingTxExchange:      "pending-tx",
			PendingMessageExchange: "pending-message",
			ProcessedExchange:      "processed-message",
			Prefetch:               50,
		},
		Storage: StorageConfig{
			Folder: "/var/lib/ccn",
		},
		IPFS: IPFSConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    5001,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8000,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Aleph.MaxConcurrency <= 0 {
		return errors.New("aleph.max_concurrency must be positive")
	}
	if c.Aleph.MaxRetries < 0 {
		return errors.New("aleph.max_retries must not be negative")
	}
	if c.Aleph.BackoffBase <= 0 || c.Aleph.BackoffCap < c.Aleph.BackoffBase {
		return errors.New("aleph backoff base/cap are inconsistent")
	}
	if c.Aleph.SeenIDsSize <= 0 {
		return errors.New("aleph.seen_ids_size must be positive")
	}
	if c.Aleph.BulkThreshold <= 0 {
		return errors.New("aleph.bulk_threshold must be positive")
	}
	if c.Postgres.PoolSize <= 0 {
		return errors.New("postgres.pool_size must be positive")
	}
	return nil
}

// Concurrency returns the semaphore size for a message type.
func (c *AlephConfig) Concurrency(messageType string) int {
	if n, ok := c.TypeConcurrency[messageType]; ok && n > 0 {
		return n
	}
	return c.MaxConcurrency
}
