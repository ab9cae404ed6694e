// Package config loads docket settings from a YAML file, the environment and
// an optional .env file.
//
// Environment variables use the DOCKET_ prefix and a double underscore as
// the section separator: DOCKET_STORE__DRIVER=sqlite sets store.driver and
// DOCKET_SESSION__PACING__THINK=500ms sets session.pacing.think.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/docket/pkg/session"
)

// EnvPrefix marks the environment variables read by Load.
const EnvPrefix = "DOCKET_"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Sink drivers.
const (
	SinkLocal = "local"
	SinkGCS   = "gcs"
)

// Config is the full docket configuration.
type Config struct {
	Backend BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Session session.Config `yaml:"session" mapstructure:"session"`
	Store   StoreConfig    `yaml:"store" mapstructure:"store"`
	Server  ServerConfig   `yaml:"server" mapstructure:"server"`
	Sink    SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Log     LogConfig      `yaml:"log" mapstructure:"log"`
}

// BackendConfig points the session controller at the REST backend.
type BackendConfig struct {
	URL       string        `yaml:"url" mapstructure:"url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	TargetUse string        `yaml:"target_use" mapstructure:"target_use"`
}

// StoreConfig selects where session snapshots live.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the directory (file) or database file (sqlite).
	Path          string        `yaml:"path" mapstructure:"path"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// DistributedLock enables the Redis session lock (redis driver only).
	DistributedLock bool `yaml:"distributed_lock" mapstructure:"distributed_lock"`

	// EncryptionKey is a base64 AES-256 key; empty disables encryption at rest.
	EncryptionKey string   `yaml:"encryption_key" mapstructure:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys" mapstructure:"fallback_keys"`
	// Mask lists regular expressions of question IDs never written in clear.
	Mask []string `yaml:"mask" mapstructure:"mask"`
}

// ServerConfig configures `docket serve`.
type ServerConfig struct {
	APIAddr       string        `yaml:"api_addr" mapstructure:"api_addr"`
	BackendAddr   string        `yaml:"backend_addr" mapstructure:"backend_addr"`
	MetricsAddr   string        `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	StagingDir    string        `yaml:"staging_dir" mapstructure:"staging_dir"`
	CatalogPath   string        `yaml:"catalog" mapstructure:"catalog"`
	MaxUploadSize int64         `yaml:"max_upload_size" mapstructure:"max_upload_size"`
	SessionTTL    time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	// EvictAfter drops idle controllers from memory; their snapshots stay stored.
	EvictAfter time.Duration `yaml:"evict_after" mapstructure:"evict_after"`
	// Analyzer enables the keyword analyzer on the reference backend.
	Analyzer bool `yaml:"analyzer" mapstructure:"analyzer"`
	// Extractors points at the YAML or JSON file listing text extractors.
	Extractors string `yaml:"extractors" mapstructure:"extractors"`
}

// SinkConfig selects where the reference backend writes confirmed uploads.
type SinkConfig struct {
	Driver string    `yaml:"driver" mapstructure:"driver"`
	Dir    string    `yaml:"dir" mapstructure:"dir"`
	GCS    GCSConfig `yaml:"gcs" mapstructure:"gcs"`
}

// GCSConfig mirrors storage.GCSConfig.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	EmulatorHost    string `yaml:"emulator_host" mapstructure:"emulator_host"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:       "http://localhost:8000",
			Timeout:   30 * time.Second,
			TargetUse: "legal",
		},
		Session: session.DefaultConfig(),
		Store: StoreConfig{
			Driver: StoreFile,
			Path:   ".docket/sessions",
			TTL:    24 * time.Hour,
		},
		Server: ServerConfig{
			APIAddr:       ":8080",
			BackendAddr:   ":8000",
			MetricsAddr:   ":2112",
			StagingDir:    ".docket/staging",
			MaxUploadSize: 50 << 20,
			SessionTTL:    time.Hour,
			EvictAfter:    15 * time.Minute,
		},
		Sink: SinkConfig{
			Driver: SinkLocal,
			Dir:    ".docket/dropbox",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional), then .env, then DOCKET_* variables, each layer
// overriding the previous one on top of Default.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	raw := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if raw == nil {
			raw = make(map[string]any)
		}
	}
	overlayEnv(raw, os.Environ())

	cfg := Default()
	// Lists replace the defaults instead of being merged element by element.
	if sess, ok := raw["session"].(map[string]any); ok {
		if _, ok := sess["allowed_extensions"]; ok {
			cfg.Session.AllowedExtensions = nil
		}
	}
	if err := decode(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(raw map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// overlayEnv writes DOCKET_A__B=value into raw["a"]["b"].
func overlayEnv(raw map[string]any, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		node := raw
		for _, p := range path[:len(path)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[p] = next
			}
			node = next
		}
		node[path[len(path)-1]] = value
	}
}

// Validate rejects unknown drivers and malformed keys.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Sink.Driver {
	case SinkLocal:
	case SinkGCS:
		if c.Sink.GCS.Bucket == "" {
			return errors.New("sink.gcs.bucket is required for the gcs sink")
		}
	default:
		return fmt.Errorf("unknown sink driver %q", c.Sink.Driver)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, _, err := c.Store.Keys(); err != nil {
		return err
	}
	return nil
}

// Keys decodes the encryption keys. A nil active key means encryption is off.
func (s StoreConfig) Keys() (active []byte, fallbacks [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err = decodeKey(s.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		fb, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		fallbacks = append(fallbacks, fb)
	}
	return active, fallbacks, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}
