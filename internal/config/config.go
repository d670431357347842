// Package config loads the service configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration. Sources, highest priority first:
//  1. the path passed to Load;
//  2. the CONFIG_PATH environment variable;
//  3. environment variables alone.
//
// Environment variables always overlay values read from a file.
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Cookie   CookieConfig   `yaml:"cookie"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Password PasswordConfig `yaml:"password"`
	Seed     SeedConfig     `yaml:"seed"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// AuthConfig holds the token and cipher parameters. Lifetimes are in
// milliseconds and must be whole seconds.
type AuthConfig struct {
	Secret            string `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
	KeyDigest         string `yaml:"key_digest" env:"AUTH_KEY_DIGEST" env-default:"SHA-256"`
	SigningAlgorithm  string `yaml:"signing_algorithm" env:"AUTH_SIGNING_ALG" env-default:"HS256"`
	Issuer            string `yaml:"issuer" env:"AUTH_ISSUER"`
	AccessLifetimeMS  int64  `yaml:"access_token_lifetime_ms" env:"ACCESS_TOKEN_LIFETIME_MS" env-default:"5400000"`
	RefreshLifetimeMS int64  `yaml:"refresh_token_lifetime_ms" env:"REFRESH_TOKEN_LIFETIME_MS" env-default:"10800000"`
}

func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessLifetimeMS) * time.Millisecond
}

func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshLifetimeMS) * time.Millisecond
}

type CookieConfig struct {
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE" env-default:"false"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAME_SITE" env-default:"lax"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
}

// DBConfig selects the user store. An empty URL keeps accounts in memory.
type DBConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// RedisConfig enables the shared revocation list and the event stream. An
// empty address keeps both in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type PasswordConfig struct {
	Algorithm  string `yaml:"algorithm" env:"PASSWORD_ALGORITHM" env-default:"bcrypt"`
	BcryptCost int    `yaml:"bcrypt_cost" env:"PASSWORD_BCRYPT_COST" env-default:"12"`
	Pepper     string `yaml:"pepper" env:"PASSWORD_PEPPER"`
}

type SeedConfig struct {
	UsersFile  string `yaml:"users_file" env:"SEED_USERS_FILE"`
	AdminEmail string `yaml:"admin_email" env:"SEED_ADMIN_EMAIL" env-default:"admin@localhost.local"`
}

var (
	ErrEmptySecret      = errors.New("config: auth secret must not be empty")
	ErrInvalidLifetime  = errors.New("config: token lifetimes must be positive whole seconds")
	ErrRefreshTooShort  = errors.New("config: refresh lifetime must not be shorter than access lifetime")
	ErrUnknownAlgorithm = errors.New("config: unknown password algorithm")
)

// Validate enforces the cross-field rules cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return ErrEmptySecret
	}
	if c.Auth.AccessLifetimeMS <= 0 || c.Auth.RefreshLifetimeMS <= 0 {
		return ErrInvalidLifetime
	}
	if c.Auth.RefreshLifetimeMS < c.Auth.AccessLifetimeMS {
		return ErrRefreshTooShort
	}
	if c.Auth.AccessLifetimeMS%1000 != 0 || c.Auth.RefreshLifetimeMS%1000 != 0 {
		return fmt.Errorf("%w: access=%dms refresh=%dms", ErrInvalidLifetime, c.Auth.AccessLifetimeMS, c.Auth.RefreshLifetimeMS)
	}
	switch c.Password.Algorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Password.Algorithm)
	}
	return nil
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		// ReadConfig overlays env after parsing the file.
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
