package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project struct {
		Root      string   `yaml:"root" validate:"required"`
		Languages []string `yaml:"languages" validate:"dive,oneof=tsx typescript javascript"`
		Ignore    []string `yaml:"ignore"`
	} `yaml:"project"`
	Pack struct {
		Depth    int `yaml:"depth" validate:"gte=0"`
		MaxNodes int `yaml:"max_nodes" validate:"gte=0"`
	} `yaml:"pack"`
	Output struct {
		Dir      string `yaml:"dir" validate:"required"`
		Manifest string `yaml:"manifest" validate:"required"`
		Bundles  string `yaml:"bundles" validate:"required"`
		Sidecars bool   `yaml:"sidecars"`
	} `yaml:"output"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Watch struct {
		Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
		HistorySize int           `yaml:"history_size" validate:"gt=0"`
	} `yaml:"watch"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Project.Root = "."
	cfg.Pack.Depth = 3
	cfg.Pack.MaxNodes = 50
	cfg.Output.Dir = ".ctxpack"
	cfg.Output.Manifest = "manifest.json"
	cfg.Output.Bundles = "bundles.json"
	cfg.Output.Sidecars = true
	cfg.Watch.Debounce = 200 * time.Millisecond
	cfg.Watch.HistorySize = 256
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if root := os.Getenv("CTXPACK_ROOT"); root != "" {
		cfg.Project.Root = root
	}
	if dir := os.Getenv("CTXPACK_OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}
	if store := os.Getenv("CTXPACK_STORE"); store != "" {
		cfg.Store.Path = store
	}
	if addr := os.Getenv("CTXPACK_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if v := os.Getenv("CTXPACK_PACK_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CTXPACK_PACK_DEPTH %q: %w", v, err)
		}
		cfg.Pack.Depth = n
	}
	if v := os.Getenv("CTXPACK_PACK_MAX_NODES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CTXPACK_PACK_MAX_NODES %q: %w", v, err)
		}
		cfg.Pack.MaxNodes = n
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// OutputPath joins name onto the output directory, resolved against the project root.
func (c *Config) OutputPath(name string) string {
	dir := c.Output.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Project.Root, dir)
	}
	if name == "" {
		return dir
	}
	return filepath.Join(dir, name)
}

// SidecarDir is where per-file contracts are written.
func (c *Config) SidecarDir() string {
	return c.OutputPath("contracts")
}
