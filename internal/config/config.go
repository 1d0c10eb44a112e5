// Package config loads facegate configuration.
//
// Sources, lowest to highest priority:
//  1. Built-in defaults
//  2. YAML file (CONFIG_PATH, or facegate.yaml / /etc/facegate/config.yaml when present)
//  3. FACEGATE_* environment variables, e.g. FACEGATE_WORKER__TIMEOUT=30s
//  4. Legacy variables: PORT, DATABASE_URL, POSTGRES_*, JWT_SECRET, JWT_EXPIRES_IN, BCRYPT_ROUNDS
//
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"facegate.yaml",
	"facegate.yml",
	"/etc/facegate/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

const envPrefix = "FACEGATE_"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Worker   WorkerConfig   `koanf:"worker"`
	Upload   UploadConfig   `koanf:"upload"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	LoginRateLimit  int           `koanf:"login_rate_limit"` // attempts per minute per IP
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type AuthConfig struct {
	JWTSecret    string        `koanf:"jwt_secret"`
	JWTExpiresIn time.Duration `koanf:"jwt_expires_in"`
	BcryptRounds int           `koanf:"bcrypt_rounds"`
}

// WorkerConfig describes the external face embedding process.
type WorkerConfig struct {
	Command       string        `koanf:"command"`
	Args          []string      `koanf:"args"`
	Env           []string      `koanf:"env"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	Dimension     int           `koanf:"dimension"`
}

type UploadConfig struct {
	Dir      string `koanf:"dir"`
	MaxBytes int64  `koanf:"max_bytes"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// devJWTSecret is the development fallback and must be overridden in production.
const devJWTSecret = "your-super-secret-jwt-key-change-in-production"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			LoginRateLimit:  10,
		},
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/facegate",
		},
		Auth: AuthConfig{
			JWTSecret:    devJWTSecret,
			JWTExpiresIn: 7 * 24 * time.Hour,
			BcryptRounds: 10,
		},
		Worker: WorkerConfig{
			Command:       "python3",
			Args:          []string{"scripts/face_auth.py"},
			Timeout:       60 * time.Second,
			MaxConcurrent: 4,
		},
		Upload: UploadConfig{
			Dir:      os.TempDir(),
			MaxBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. path may be empty to use the default search.
func Load(path string) (*Config, error) {
	// Missing .env is normal
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := applyLegacyEnv(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps FACEGATE_WORKER__MAX_CONCURRENT to worker.max_concurrent.
// A double underscore separates sections so single underscores survive in key names.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// applyLegacyEnv honours the plain variable names used by existing deployment scripts.
func applyLegacyEnv(k *koanf.Koanf) error {
	overrides := map[string]any{}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		overrides["server.port"] = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		overrides["database.url"] = v
	} else if url := PostgresURLFromEnv(); url != "" {
		overrides["database.url"] = url
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		overrides["auth.jwt_secret"] = v
	}
	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := ParseExpiry(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_EXPIRES_IN %q: %w", v, err)
		}
		overrides["auth.jwt_expires_in"] = d
	}
	if v := os.Getenv("BCRYPT_ROUNDS"); v != "" {
		rounds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BCRYPT_ROUNDS %q: %w", v, err)
		}
		overrides["auth.bcrypt_rounds"] = rounds
	}

	for key, v := range overrides {
		if err := k.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}

// PostgresURLFromEnv builds a connection string from POSTGRES_HOST and friends.
// It returns "" when POSTGRES_HOST is unset.
func PostgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// ParseExpiry accepts Go durations ("168h") and the day form used by jsonwebtoken ("7d").
func ParseExpiry(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("auth.jwt_expires_in must be positive"))
	}
	if c.Auth.BcryptRounds < 4 || c.Auth.BcryptRounds > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_rounds must be 4-31, got %d", c.Auth.BcryptRounds))
	}
	if c.Worker.Command == "" {
		errs = append(errs, errors.New("worker.command is required"))
	}
	if c.Worker.Timeout < 0 {
		errs = append(errs, errors.New("worker.timeout must be >= 0"))
	}
	if c.Worker.MaxConcurrent < 0 {
		errs = append(errs, errors.New("worker.max_concurrent must be >= 0"))
	}
	if c.Worker.Dimension < 0 {
		errs = append(errs, errors.New("worker.dimension must be >= 0"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// UsesDevSecret reports whether the JWT secret is still the built-in development value.
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == devJWTSecret
}
