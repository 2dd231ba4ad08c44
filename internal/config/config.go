package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every setting the orchestration engine needs for a run or a serve loop.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Trust       TrustConfig       `yaml:"trust"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Workflows   WorkflowsConfig   `yaml:"workflows"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Cache       CacheConfig       `yaml:"cache"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ServerConfig controls the gRPC availability listener used by `serve`.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	ProbeInterval   time.Duration `yaml:"probeInterval"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ExecutionConfig controls how tools are executed.
type ExecutionConfig struct {
	Mode             string        `yaml:"mode"`
	Workers          int           `yaml:"workers"`
	WorkflowTimeout  time.Duration `yaml:"workflowTimeout"`
	DefaultTimeout   time.Duration `yaml:"defaultTimeout"`
	PullImages       bool          `yaml:"pullImages"`
	RemoveImages     bool          `yaml:"removeImages"`
	OutputLimitBytes int           `yaml:"outputLimitBytes"`
	DockerHost       string        `yaml:"dockerHost"`
}

// TrustConfig points at the image trust manifest. Empty uses the embedded default.
type TrustConfig struct {
	ManifestPath string `yaml:"manifestPath"`
}

// PluginsConfig controls plugin discovery and admission.
type PluginsConfig struct {
	Dirs                 []string `yaml:"dirs"`
	AllowedRoot          string   `yaml:"allowedRoot"`
	ReviewedFingerprints []string `yaml:"reviewedFingerprints"`
}

// WorkflowsConfig controls loading of named workflows.
type WorkflowsConfig struct {
	Path string `yaml:"path"`
}

// CorrelationConfig tunes the deduplication engine.
type CorrelationConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzyThreshold"`
}

// CacheConfig controls caching of successful tool invocations.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`
	Size         int           `yaml:"size"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
}

// ArchiveConfig controls upload of raw tool output to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_OSINT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot honour.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Execution.Mode) {
	case "container", "native", "hybrid":
	default:
		return fmt.Errorf("execution.mode must be container, native or hybrid, got %q", c.Execution.Mode)
	}
	if c.Execution.Workers < 0 {
		return fmt.Errorf("execution.workers must not be negative")
	}
	if c.Execution.OutputLimitBytes <= 0 {
		return fmt.Errorf("execution.outputLimitBytes must be positive")
	}
	if c.Correlation.FuzzyThreshold <= 0 || c.Correlation.FuzzyThreshold > 1 {
		return fmt.Errorf("correlation.fuzzyThreshold must be in (0,1], got %v", c.Correlation.FuzzyThreshold)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "valkey":
	default:
		return fmt.Errorf("cache.backend must be memory or valkey, got %q", c.Cache.Backend)
	}
	return nil
}

func defaultConfig() Config {
	pluginDirs := []string{"plugins"}
	if home, err := os.UserHomeDir(); err == nil {
		pluginDirs = append(pluginDirs, filepath.Join(home, ".mirador-osint", "plugins"))
	}

	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			ProbeInterval:   time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Execution: ExecutionConfig{
			Mode:             "hybrid",
			WorkflowTimeout:  15 * time.Minute,
			DefaultTimeout:   300 * time.Second,
			OutputLimitBytes: 5 << 20,
		},
		Plugins:     PluginsConfig{Dirs: pluginDirs},
		Workflows:   WorkflowsConfig{Path: "configs/workflows.yaml"},
		Correlation: CorrelationConfig{FuzzyThreshold: 0.85},
		Cache: CacheConfig{
			Enabled:      false,
			Backend:      "memory",
			Size:         1024,
			ResultTTL:    24 * time.Hour,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Archive: ArchiveConfig{Region: "us-east-1", Bucket: "osint-runs"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_OSINT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_OSINT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_OSINT_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ProbeInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_OSINT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_OSINT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_OSINT_MODE"); v != "" {
		cfg.Execution.Mode = v
	}
	if v := os.Getenv("MIRADOR_OSINT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Execution.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_OSINT_WORKFLOW_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Execution.WorkflowTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_OSINT_PULL_IMAGES"); v != "" {
		cfg.Execution.PullImages = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_OSINT_REMOVE_IMAGES"); v != "" {
		cfg.Execution.RemoveImages = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_OSINT_DOCKER_HOST"); v != "" {
		cfg.Execution.DockerHost = v
	}
	if v := os.Getenv("MIRADOR_OSINT_TRUST_MANIFEST"); v != "" {
		cfg.Trust.ManifestPath = v
	}
	if v := os.Getenv("MIRADOR_OSINT_PLUGIN_DIRS"); v != "" {
		cfg.Plugins.Dirs = filepath.SplitList(v)
	}
	if v := os.Getenv("MIRADOR_OSINT_WORKFLOWS_PATH"); v != "" {
		cfg.Workflows.Path = v
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_OSINT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_OSINT_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_OSINT_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_OSINT_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("MIRADOR_OSINT_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("MIRADOR_OSINT_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
