package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DefaultListenAddress = "127.0.0.1:8080"
	DefaultAPIURL        = "http://127.0.0.1:8080"
	DefaultStorageRoot   = "./save_data"
	DefaultTokenSource   = "file:./tokens.yaml"
	DefaultLogLevel      = "debug"

	DefaultMaxUploadBytes       int64 = 256 * 1024 * 1024
	DefaultMaxConcurrentUploads       = 16

	BackendLocal = "local"
	BackendMinio = "minio"

	configFileName           = ".savesync.toml"
	configDirEnvKey          = "SAVESYNC_CONFIG_DIR"
	trustProjectConfigEnvKey = "SAVESYNC_TRUST_PROJECT_CONFIG"
)

// AuthConfig configures the jwt token source.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret" env:"SAVESYNC_JWT_SECRET"`
	JWTIssuer string `toml:"jwt_issuer" env:"SAVESYNC_JWT_ISSUER"`
}

// MinioConfig configures the object storage blob backend.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint" env:"SAVESYNC_MINIO_ENDPOINT"`
	AccessKey string `toml:"access_key" env:"SAVESYNC_MINIO_ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SAVESYNC_MINIO_SECRET_KEY"`
	Bucket    string `toml:"bucket" env:"SAVESYNC_MINIO_BUCKET"`
	UseSSL    bool   `toml:"use_ssl" env:"SAVESYNC_MINIO_USE_SSL"`
	Region    string `toml:"region" env:"SAVESYNC_MINIO_REGION"`
}

// StorageConfig selects where save blobs live.
type StorageConfig struct {
	Backend string      `toml:"backend" env:"SAVESYNC_STORAGE_BACKEND"`
	Minio   MinioConfig `toml:"minio"`
}

// UploadConfig bounds upload traffic.
type UploadConfig struct {
	MaxUploadBytes int64 `toml:"max_upload_bytes" env:"SAVESYNC_MAX_UPLOAD_BYTES"`
	MaxConcurrent  int   `toml:"max_concurrent" env:"SAVESYNC_MAX_CONCURRENT_UPLOADS"`
}

// Config defines runtime configuration for savesync.
type Config struct {
	ListenAddress            string        `toml:"listen_address" env:"SAVESYNC_LISTEN_ADDRESS"`
	StorageRoot              string        `toml:"storage_root" env:"SAVESYNC_STORAGE_ROOT"`
	TokenSource              string        `toml:"token_source" env:"SAVESYNC_TOKEN_SOURCE"`
	LogLevel                 string        `toml:"log_level" env:"SAVESYNC_LOG_LEVEL"`
	APIURL                   string        `toml:"api_url" env:"SAVESYNC_API_URL"`
	Token                    string        `toml:"token" env:"SAVESYNC_TOKEN"`
	Auth                     AuthConfig    `toml:"auth"`
	Storage                  StorageConfig `toml:"storage"`
	Uploads                  UploadConfig  `toml:"uploads"`
	TrustedProjectConfigPath string        `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		ListenAddress: DefaultListenAddress,
		StorageRoot:   DefaultStorageRoot,
		TokenSource:   DefaultTokenSource,
		LogLevel:      DefaultLogLevel,
		APIURL:        DefaultAPIURL,
		Storage: StorageConfig{
			Backend: BackendLocal,
			Minio:   MinioConfig{UseSSL: true},
		},
		Uploads: UploadConfig{
			MaxUploadBytes: DefaultMaxUploadBytes,
			MaxConcurrent:  DefaultMaxConcurrentUploads,
		},
	}
}

// TokenSource kinds.
const (
	TokenSourceFile   = "file"
	TokenSourceSQLite = "sqlite"
	TokenSourceJWT    = "jwt"
)

// ParseTokenSource splits a token_source value into its kind and path. A
// bare path is a YAML token file.
func ParseTokenSource(raw string) (kind, path string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("token_source is required")
	}
	if raw == TokenSourceJWT {
		return TokenSourceJWT, "", nil
	}
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		switch prefix {
		case TokenSourceFile, TokenSourceSQLite:
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return "", "", fmt.Errorf("token_source %q has no path", raw)
			}
			return prefix, rest, nil
		}
	}
	return TokenSourceFile, raw, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	kind, _, err := ParseTokenSource(c.TokenSource)
	if err != nil {
		return err
	}
	if kind == TokenSourceJWT && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("token_source jwt requires auth.jwt_secret")
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendMinio:
		if strings.TrimSpace(c.Storage.Minio.Endpoint) == "" || strings.TrimSpace(c.Storage.Minio.Bucket) == "" {
			return fmt.Errorf("storage.backend minio requires storage.minio.endpoint and storage.minio.bucket")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want %s or %s)", c.Storage.Backend, BackendLocal, BackendMinio)
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage_root is required")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"listen_address",
	"storage_root",
	"token_source",
	"log_level",
	"api_url",
	"token",
	"auth.jwt_secret",
	"auth.jwt_issuer",
	"storage.backend",
	"storage.minio.endpoint",
	"storage.minio.access_key",
	"storage.minio.secret_key",
	"storage.minio.bucket",
	"storage.minio.use_ssl",
	"storage.minio.region",
	"uploads.max_upload_bytes",
	"uploads.max_concurrent",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "listen_address":
		return c.ListenAddress, nil
	case "storage_root":
		return c.StorageRoot, nil
	case "token_source":
		return c.TokenSource, nil
	case "log_level":
		return c.LogLevel, nil
	case "api_url":
		return c.APIURL, nil
	case "token":
		return c.Token, nil
	case "auth.jwt_secret":
		return c.Auth.JWTSecret, nil
	case "auth.jwt_issuer":
		return c.Auth.JWTIssuer, nil
	case "storage.backend":
		return c.Storage.Backend, nil
	case "storage.minio.endpoint":
		return c.Storage.Minio.Endpoint, nil
	case "storage.minio.access_key":
		return c.Storage.Minio.AccessKey, nil
	case "storage.minio.secret_key":
		return c.Storage.Minio.SecretKey, nil
	case "storage.minio.bucket":
		return c.Storage.Minio.Bucket, nil
	case "storage.minio.use_ssl":
		return strconv.FormatBool(c.Storage.Minio.UseSSL), nil
	case "storage.minio.region":
		return c.Storage.Minio.Region, nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "uploads.max_concurrent":
		return strconv.Itoa(c.Uploads.MaxConcurrent), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// The file may hold secrets (jwt_secret, minio keys, client token).
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.max_upload_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "uploads.max_concurrent":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "storage.minio.use_ssl":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "storage.backend":
		if value != BackendLocal && value != BackendMinio {
			return nil, fmt.Errorf("%s must be %s or %s", key, BackendLocal, BackendMinio)
		}
		return value, nil
	case "token_source":
		if _, _, err := ParseTokenSource(value); err != nil {
			return nil, err
		}
		return value, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.APIURL) == "" {
		c.APIURL = DefaultAPIURL
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		c.StorageRoot = DefaultStorageRoot
	}
	if strings.TrimSpace(c.TokenSource) == "" {
		c.TokenSource = DefaultTokenSource
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLocal
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Uploads.MaxConcurrent <= 0 {
		c.Uploads.MaxConcurrent = DefaultMaxConcurrentUploads
	}
}
