// Package config assembles runtime settings from an optional YAML file,
// a local .env file, and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for a local single-user deployment.
const (
	DefaultAddr     = "127.0.0.1:8080"
	DefaultDBPath   = "fedifaves.db"
	DefaultBasePath = "/dash/fedifaves/"
	DefaultAppName  = "fedifaves"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `yaml:"addr"`
	// PublicURL is the externally reachable origin, no trailing slash.
	// OAuth redirect URIs are derived from it, so it must match what the
	// browser uses.
	PublicURL string `yaml:"public_url"`
	// BasePath is the path prefix the dashboard is mounted under.
	BasePath string `yaml:"base_path"`
	// DBPath is the SQLite file holding session slots.
	DBPath string `yaml:"db_path"`
	// AppName is the client name sent during OAuth app registration.
	AppName string `yaml:"app_name"`
	// Debug switches logging to debug level.
	Debug bool `yaml:"debug"`

	// SecretKey encrypts credentials at rest. Env only, never written to
	// the YAML file.
	SecretKey string `yaml:"-"`
}

// Load resolves configuration. A missing YAML file or .env file is not an
// error; a present but malformed one is.
func Load(path string) (Config, error) {
	// .env feeds the environment, it does not override an already set var.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Config{
		Addr:     DefaultAddr,
		DBPath:   DefaultDBPath,
		BasePath: DefaultBasePath,
		AppName:  DefaultAppName,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Fall through to env.
		case err != nil:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FEDIFAVES_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("FEDIFAVES_PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv("FEDIFAVES_BASE_PATH"); v != "" {
		cfg.BasePath = v
	}
	if v := os.Getenv("FEDIFAVES_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FEDIFAVES_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	cfg.SecretKey = os.Getenv("FEDIFAVES_SECRET_KEY")
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return errors.New("FEDIFAVES_SECRET_KEY is required")
	}
	if !strings.HasPrefix(c.BasePath, "/") || !strings.HasSuffix(c.BasePath, "/") {
		return fmt.Errorf("base path %q must start and end with /", c.BasePath)
	}
	c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")
	if c.PublicURL == "" {
		c.PublicURL = "http://" + c.Addr
	}
	return nil
}
