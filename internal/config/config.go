// Package config manages the Thread node daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete threadnode configuration.
type Config struct {
	Node     NodeConfig     `koanf:"node"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Buffer   BufferConfig   `koanf:"buffer"`
	Mesh     MeshConfig     `koanf:"mesh"`
	MPL      MPLConfig      `koanf:"mpl"`
}

// NodeConfig holds the IEEE 802.15.4 radio identity and Thread network
// credentials a node attaches with (spec §4.6, §9).
type NodeConfig struct {
	// Channel is the 802.15.4 channel number (11-26 for 2.4GHz).
	Channel uint8 `koanf:"channel"`
	// PANID is the 802.15.4 PAN identifier.
	PANID uint16 `koanf:"pan_id"`
	// ExtendedAddress is this node's 64-bit IEEE address. Zero means
	// generate one at startup.
	ExtendedAddress uint64 `koanf:"extended_address"`
	// NetworkKey is the 16-byte Thread master key, hex-encoded (32 chars).
	NetworkKey string `koanf:"network_key"`
	// NetworkName is an operator-facing label; nothing outside this
	// package reads it.
	NetworkName string `koanf:"network_name"`
}

// MasterKeyBytes decodes NetworkKey into the 16-byte key keymgr.New expects.
func (nc NodeConfig) MasterKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(nc.NetworkKey)
	if err != nil {
		return nil, fmt.Errorf("decode node.network_key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("node.network_key: %w", ErrInvalidNetworkKeyLength)
	}
	return key, nil
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// BufferConfig holds the arena buffer pool sizing (spec §5's Message/
// MessageQueue pool).
type BufferConfig struct {
	// PoolSize is the number of fixed-size buffer slots the arena pool
	// pre-allocates.
	PoolSize int `koanf:"pool_size"`
}

// MeshConfig holds forwarding and attach-layer timers (spec §4.4, §4.6).
type MeshConfig struct {
	// ReassemblyTimeout bounds how long a partial 6LoWPAN fragment set is
	// held before being dropped (spec §4.4: "kReassemblyTimeout = 5s").
	ReassemblyTimeout time.Duration `koanf:"reassembly_timeout"`

	// ChildTimeout is the default timeout a child requests when attaching,
	// in seconds (spec §4.6 Timeout TLV).
	ChildTimeout time.Duration `koanf:"child_timeout"`

	// PollPeriod is how often an rx-off-when-idle child polls its parent
	// for queued data (spec §4.6 Data-Request/Response).
	PollPeriod time.Duration `koanf:"poll_period"`
}

// MPLConfig holds Multicast Protocol for Low-power and Lossy Networks
// dedup parameters (spec §6: "MPL dedup window: implementation parameter",
// "MPL cache-entry lifetime and dedup window size are compile-time config").
type MPLConfig struct {
	// DedupWindow is the number of trailing sequence numbers the seed-set
	// dedup cache remembers per seed.
	DedupWindow int `koanf:"dedup_window"`

	// EntryLifetime is how long a seed's dedup entry is retained without a
	// fresh message before being purged.
	EntryLifetime time.Duration `koanf:"entry_lifetime"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Channel:     11,
			PANID:       0xface,
			NetworkKey:  "00000000000000000000000000000000",
			NetworkName: "threadnode",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Buffer: BufferConfig{
			PoolSize: 64,
		},
		Mesh: MeshConfig{
			ReassemblyTimeout: 5 * time.Second,
			ChildTimeout:      240 * time.Second,
			PollPeriod:        1 * time.Second,
		},
		MPL: MPLConfig{
			DedupWindow:   32,
			EntryLifetime: 5 * time.Minute,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for threadnode configuration.
// Variables are named THREADCORE_<section>_<key>, e.g. THREADCORE_NODE_CHANNEL.
const envPrefix = "THREADCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (THREADCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	THREADCORE_NODE_CHANNEL      -> node.channel
//	THREADCORE_NODE_PAN_ID       -> node.pan_id
//	THREADCORE_NODE_NETWORK_KEY  -> node.network_key
//	THREADCORE_METRICS_ADDR      -> metrics.addr
//	THREADCORE_LOG_LEVEL         -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms THREADCORE_NODE_PAN_ID -> node.pan_id: only the
// first underscore (the section separator) becomes a dot, so underscores
// within a field name such as pan_id are kept and match the koanf tag.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"node.channel":           defaults.Node.Channel,
		"node.pan_id":            defaults.Node.PANID,
		"node.extended_address":  defaults.Node.ExtendedAddress,
		"node.network_key":       defaults.Node.NetworkKey,
		"node.network_name":      defaults.Node.NetworkName,
		"metrics.addr":           defaults.Metrics.Addr,
		"metrics.path":           defaults.Metrics.Path,
		"log.level":              defaults.Log.Level,
		"log.format":             defaults.Log.Format,
		"buffer.pool_size":       defaults.Buffer.PoolSize,
		"mesh.reassembly_timeout": defaults.Mesh.ReassemblyTimeout.String(),
		"mesh.child_timeout":     defaults.Mesh.ChildTimeout.String(),
		"mesh.poll_period":       defaults.Mesh.PollPeriod.String(),
		"mpl.dedup_window":       defaults.MPL.DedupWindow,
		"mpl.entry_lifetime":     defaults.MPL.EntryLifetime.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidChannel indicates the 802.15.4 channel is outside 11-26.
	ErrInvalidChannel = errors.New("node.channel must be between 11 and 26")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidNetworkKeyLength indicates the decoded network key is not
	// 16 bytes.
	ErrInvalidNetworkKeyLength = errors.New("network key must decode to exactly 16 bytes")

	// ErrInvalidPoolSize indicates the buffer pool size is not positive.
	ErrInvalidPoolSize = errors.New("buffer.pool_size must be > 0")

	// ErrInvalidReassemblyTimeout indicates the reassembly timeout is not
	// positive.
	ErrInvalidReassemblyTimeout = errors.New("mesh.reassembly_timeout must be > 0")

	// ErrInvalidDedupWindow indicates the MPL dedup window is not positive.
	ErrInvalidDedupWindow = errors.New("mpl.dedup_window must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Node.Channel < 11 || cfg.Node.Channel > 26 {
		return ErrInvalidChannel
	}

	if _, err := cfg.Node.MasterKeyBytes(); err != nil {
		return err
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Buffer.PoolSize <= 0 {
		return ErrInvalidPoolSize
	}

	if cfg.Mesh.ReassemblyTimeout <= 0 {
		return ErrInvalidReassemblyTimeout
	}

	if cfg.MPL.DedupWindow <= 0 {
		return ErrInvalidDedupWindow
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
