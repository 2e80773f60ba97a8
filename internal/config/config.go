package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	ClientOrigin   string        `mapstructure:"client_origin"`
	StaticDir      string        `mapstructure:"static_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	CookieName    string        `mapstructure:"cookie_name"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
}

type DelegationConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"server.address":              ":8080",
	"server.client_origin":        "http://localhost:5173",
	"server.static_dir":           "web",
	"server.request_timeout":      "10s",
	"database.driver":             "sqlite",
	"database.path":               "darts.db",
	"database.dsn":                "",
	"auth.jwt_secret":             "",
	"auth.token_ttl":              "336h",
	"auth.cookie_name":            "darts_token",
	"auth.secure_cookies":         false,
	"delegation.ttl":              "600s",
	"delegation.cleanup_interval": "1m",
	"log.level":                   "info",
}

// Load reads an optional .env file, an optional config.yaml in path and the
// environment, in increasing order of precedence. Environment keys are the
// upper-cased config keys with dots replaced by underscores, e.g.
// SERVER_ADDRESS or AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path must be set for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set")
	}
	if c.Auth.TokenTTL <= 0 || c.Delegation.TTL <= 0 || c.Delegation.CleanupInterval <= 0 {
		return errors.New("durations must be positive")
	}
	return nil
}
