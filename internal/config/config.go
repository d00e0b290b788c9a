// Package config loads the sessionvault configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/sessionvault/pkg/codec"
	"github.com/forest6511/sessionvault/pkg/vault"
)

// FileName is the name of the configuration file inside the state directory.
const FileName = "config.yaml"

// Environment variables
const (
	EnvHome          = "SESSIONVAULT_HOME"
	EnvPassphrase    = "SESSIONVAULT_PASSPHRASE"
	envPrefix        = "SESSIONVAULT"
	defaultStateDir  = ".sessionvault"
	currentVersion   = 1
	requiredFileMode = 0600
)

// Backend names
const (
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendKeyring, BackendSQLite, BackendRedis, BackendMemory}

var (
	// ErrInsecure is returned when the config file is readable by others.
	ErrInsecure = errors.New("config file has insecure permissions")

	// ErrSymlink is returned when the config file is a symlink.
	ErrSymlink = errors.New("config file is a symlink")

	// ErrNotOwnedByUser is returned when the config file belongs to another user.
	ErrNotOwnedByUser = errors.New("config file not owned by current user")

	errNotFound = errors.New("config file not found")
)

// Config is the sessionvault configuration.
type Config struct {
	Version      int           `yaml:"version"`
	Service      string        `yaml:"service"`
	Purpose      string        `yaml:"purpose"`
	ChunkSize    int           `yaml:"chunk_size"`
	Backend      string        `yaml:"backend"`
	MaxEntrySize int           `yaml:"max_entry_size"`
	Keyring      KeyringConfig `yaml:"keyring"`
	SQLite       SQLiteConfig  `yaml:"sqlite"`
	Redis        RedisConfig   `yaml:"redis"`
	Log          LogConfig     `yaml:"log"`
	Audit        AuditConfig   `yaml:"audit"`

	// Passphrase is taken from SESSIONVAULT_PASSPHRASE only.
	Passphrase string `yaml:"-"`
}

type KeyringConfig struct {
	Backends []string `yaml:"backends"`
	FileDir  string   `yaml:"file_dir"`
	Label    bool     `yaml:"label"`
}

type SQLiteConfig struct {
	Path    string `yaml:"path"`
	Encrypt bool   `yaml:"encrypt"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
	Password string        `yaml:"password,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:      currentVersion,
		Service:      "sessionvault",
		Purpose:      "github-session",
		ChunkSize:    codec.DefaultChunkSize,
		Backend:      BackendKeyring,
		MaxEntrySize: vault.WinCredMaxBlob,
		Keyring:      KeyringConfig{Label: true},
		SQLite:       SQLiteConfig{Path: "vault.db"},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Prefix:  "sessionvault",
			Timeout: vault.DefaultRedisTimeout,
		},
		Log:   LogConfig{Level: "warn", Pretty: true},
		Audit: AuditConfig{Enabled: true, Dir: "audit"},
	}
}

// Home returns the state directory: $SESSIONVAULT_HOME or ~/.sessionvault.
func Home() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultStateDir), nil
}

// Load reads the configuration at path, or config.yaml in Home() when path is
// empty. A missing file yields Default(). Environment overrides are applied
// in both cases, and relative paths are resolved against the directory that
// holds the file.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := Home()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, FileName)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	for _, key := range []string{"backend", "purpose", "service"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("redis.password", envPrefix+"_REDIS_PASSWORD"); err != nil {
		return nil, err
	}

	content, err := readSecure(path)
	switch {
	case errors.Is(err, errNotFound):
	case err != nil:
		return nil, err
	default:
		if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.Passphrase = os.Getenv(EnvPassphrase)
	cfg.resolve(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecure opens path without following symlinks, checks permissions and
// ownership on the open descriptor, then reads it.
func readSecure(path string) ([]byte, error) {
	f, err := openConfigFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkFileMode(info); err != nil {
		return nil, err
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.SQLite.Path = abs(c.SQLite.Path)
	c.Audit.Dir = abs(c.Audit.Dir)
	c.Log.File = abs(c.Log.File)
	c.Keyring.FileDir = abs(c.Keyring.FileDir)
}

// Validate checks the configuration for values no backend can work with.
func (c *Config) Validate() error {
	if c.Version != currentVersion {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("invalid backend: %q (must be one of %v)", c.Backend, Backends)
	}
	if _, err := vault.NewKey(c.Service, c.Purpose); err != nil {
		return fmt.Errorf("invalid service/purpose: %w", err)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %d (must be positive)", c.ChunkSize)
	}
	if c.MaxEntrySize < 0 {
		return fmt.Errorf("invalid max_entry_size: %d", c.MaxEntrySize)
	}
	if c.MaxEntrySize > 0 && c.ChunkSize > c.MaxEntrySize {
		return fmt.Errorf("chunk_size %d exceeds max_entry_size %d", c.ChunkSize, c.MaxEntrySize)
	}
	if c.Backend == BackendSQLite && c.SQLite.Path == "" {
		return errors.New("sqlite.path is required for the sqlite backend")
	}
	if c.Backend == BackendRedis && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for the redis backend")
	}
	return nil
}

// Write stores c as YAML at path with 0600 permissions. The passphrase is
// never written.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, requiredFileMode)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}
