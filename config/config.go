// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port              int           `yaml:"port"`
		Timeout           time.Duration `yaml:"timeout"`
		AllowedOrigins    []string      `yaml:"allowed_origins"`
		MaxBodyBytes      int64         `yaml:"max_body_bytes"`
		LegacyErrorStatus bool          `yaml:"legacy_error_status"`
	} `yaml:"http"`
	Model struct {
		Type      string `yaml:"type"`
		Path      string `yaml:"path"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"model"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Batch struct {
		Endpoint  string        `yaml:"endpoint"`
		Timeout   time.Duration `yaml:"timeout"`
		MaxRows   int           `yaml:"max_rows"`
		HistoryDB string        `yaml:"history_db"`
		OutputDir string        `yaml:"output_dir"`
	} `yaml:"batch"`
}

// Default returns a configuration that runs without a config file.
func Default() *Config {
	var c Config
	c.Http.Port = 5000
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Http.MaxBodyBytes = 10 << 20
	c.Model.Type = "logistic"
	c.Model.Path = "models/churn_model.json"
	c.Model.CacheSize = 1024
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 30
	c.Batch.Endpoint = "http://127.0.0.1:5000/predict"
	c.Batch.Timeout = 10 * time.Second
	c.Batch.MaxRows = 200
	c.Batch.HistoryDB = "data/batches.db"
	c.Batch.OutputDir = "data/out"
	return &c
}

// Load reads .env (if present), the YAML file at path and CHURN_* overrides.
// A missing file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Locate looks for name in the working directory, then its parent, so the
// binaries work when run from cmd/.
func Locate(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	parent := filepath.Join("..", name)
	if _, err := os.Stat(parent); err == nil {
		return parent
	}
	return name
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHURN_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHURN_HTTP_PORT: %w", err)
		}
		c.Http.Port = port
	}
	if v := os.Getenv("CHURN_MODEL_TYPE"); v != "" {
		c.Model.Type = v
	}
	if v := os.Getenv("CHURN_MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("CHURN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHURN_BATCH_ENDPOINT"); v != "" {
		c.Batch.Endpoint = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.Http.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Model.CacheSize < 0 {
		return errors.New("model.cache_size must not be negative")
	}
	if c.Batch.MaxRows <= 0 {
		return errors.New("batch.max_rows must be positive")
	}
	if c.Batch.Timeout <= 0 {
		return errors.New("batch.timeout must be positive")
	}
	return nil
}
