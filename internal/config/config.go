// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the API.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	CORSOrigins     []string      `yaml:"cors_allowed_origins"`

	Detector struct {
		// GRPCAddr is used when URL is empty.
		GRPCAddr  string `yaml:"grpc_addr"`
		URL       string `yaml:"url"`
		Serialize bool   `yaml:"serialize"`
	} `yaml:"pose_detector"`

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"landmark_ttl"`
	} `yaml:"redis"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	JWT struct {
		Secret   string `yaml:"secret"`
		Audience string `yaml:"audience"`
	} `yaml:"jwt"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	cfg := &Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
	cfg.Detector.GRPCAddr = "pose-detector:50051"
	cfg.Redis.TTL = time.Hour
	return cfg
}

// Load reads CONFIG_FILE when set and then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getEnv := func(key string, target *string) {
		if value, ok := lookup(key); ok && value != "" {
			*target = value
		}
	}

	getEnv("HTTP_ADDR", &c.HTTPAddr)
	getEnv("LOG_LEVEL", &c.LogLevel)
	getEnv("POSE_DETECTOR_ADDR", &c.Detector.GRPCAddr)
	getEnv("POSE_DETECTOR_URL", &c.Detector.URL)
	getEnv("REDIS_ADDR", &c.Redis.Addr)
	getEnv("DATABASE_DSN", &c.Database.DSN)
	getEnv("JWT_SECRET", &c.JWT.Secret)
	getEnv("JWT_AUDIENCE", &c.JWT.Audience)

	if value, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && value != "" {
		c.CORSOrigins = splitList(value)
	}
	if value, ok := lookup("POSE_DETECTOR_SERIALIZE"); ok && value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("POSE_DETECTOR_SERIALIZE: %w", err)
		}
		c.Detector.Serialize = parsed
	}
	if value, ok := lookup("SHUTDOWN_TIMEOUT"); ok && value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = parsed
	}
	if value, ok := lookup("LANDMARK_CACHE_TTL"); ok && value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("LANDMARK_CACHE_TTL: %w", err)
		}
		c.Redis.TTL = parsed
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
