// Package config loads server configuration from an optional YAML file with
// environment variable overrides. A .env file, when present, is loaded first
// so local development can keep overrides out of the shell.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type StorageConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`
}

type NATSConfig struct {
	// URL of the NATS server. Empty disables event publishing.
	URL string `yaml:"url" validate:"omitempty,url"`
}

type JobsConfig struct {
	// RetainFinished is how long terminal jobs stay pollable.
	RetainFinished time.Duration `yaml:"retainFinished"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Path: "feedsmith.db"},
		Jobs:    JobsConfig{RetainFinished: time.Hour},
	}
}

// Load reads path (skipped when empty or missing), then applies environment
// overrides, then validates. godotenv only fills variables not already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FEEDSMITH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FEEDSMITH_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FEEDSMITH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FEEDSMITH_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("FEEDSMITH_JOB_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.RetainFinished = d
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.Server.Addr = ":" + v
		}
	}
}
