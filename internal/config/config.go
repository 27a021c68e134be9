package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sloppy/codeshield/internal/db"
	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/model"
)

const (
	DefaultListen       = "127.0.0.1:8080"
	DefaultAITimeout    = 120 * time.Second
	DefaultMaxFileBytes = 2 * 1024 * 1024

	dirName  = ".codeshield"
	fileName = "config.yaml"
)

// Config is the resolved runtime configuration.
type Config struct {
	Listen         string
	DBPath         string
	Debug          bool
	OllamaURL      string
	AITimeout      time.Duration
	AIProbeTimeout time.Duration
	MaxFileBytes   int64
	RulesFile      string
	Scan           model.ScanConfig
}

func Default() Config {
	return Config{
		Listen:         DefaultListen,
		DBPath:         db.MemoryPath,
		OllamaURL:      llm.DefaultBaseURL,
		AITimeout:      DefaultAITimeout,
		AIProbeTimeout: llm.DefaultProbeTimeout,
		MaxFileBytes:   DefaultMaxFileBytes,
		Scan:           model.DefaultScanConfig(),
	}
}

// fileConfig is the on-disk shape. Zero values mean "not set".
type fileConfig struct {
	Listen         string      `yaml:"listen,omitempty"`
	DBPath         string      `yaml:"db_path,omitempty"`
	Debug          *bool       `yaml:"debug,omitempty"`
	OllamaURL      string      `yaml:"ollama_url,omitempty"`
	AITimeout      string      `yaml:"ai_timeout,omitempty"`
	AIProbeTimeout string      `yaml:"ai_probe_timeout,omitempty"`
	MaxFileBytes   *int64      `yaml:"max_file_bytes,omitempty"`
	RulesFile      string      `yaml:"rules_file,omitempty"`
	Scan           *scanConfig `yaml:"scan,omitempty"`
}

type scanConfig struct {
	EnableStatic      *bool    `yaml:"enable_static,omitempty"`
	EnableAI          *bool    `yaml:"enable_ai,omitempty"`
	Model             string   `yaml:"model,omitempty"`
	MaxConcurrentAI   *int     `yaml:"max_concurrent_ai,omitempty"`
	Languages         []string `yaml:"languages,omitempty"`
	ExcludePaths      []string `yaml:"exclude_paths,omitempty"`
	SeverityThreshold string   `yaml:"severity_threshold,omitempty"`
}

// Load resolves configuration. With an explicit path only that file is read
// and it must exist. Otherwise layered sources are applied over the defaults:
//  1. ~/.codeshield/config.yaml (global)
//  2. ./.codeshield/config.yaml (working directory, takes precedence)
//
// Missing layered files are ignored.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		fc, err := loadFile(path, false)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		return apply(cfg, fc)
	}

	var layers []string
	if home, _ := os.UserHomeDir(); home != "" {
		layers = append(layers, filepath.Join(home, dirName, fileName))
	}
	if cwd, _ := os.Getwd(); cwd != "" {
		layers = append(layers, filepath.Join(cwd, dirName, fileName))
	}
	for _, layer := range layers {
		fc, err := loadFile(layer, true)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", layer, err)
		}
		if cfg, err = apply(cfg, fc); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", layer, err)
		}
	}
	return cfg, nil
}

func loadFile(path string, optional bool) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, nil
		}
		return fileConfig{}, err
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return fileConfig{}, nil
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// apply overlays the set fields of fc onto cfg.
func apply(cfg Config, fc fileConfig) (Config, error) {
	if fc.Listen != "" {
		cfg.Listen = fc.Listen
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.OllamaURL != "" {
		cfg.OllamaURL = fc.OllamaURL
	}
	if fc.AITimeout != "" {
		d, err := parsePositiveDuration("ai_timeout", fc.AITimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.AITimeout = d
	}
	if fc.AIProbeTimeout != "" {
		d, err := parsePositiveDuration("ai_probe_timeout", fc.AIProbeTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.AIProbeTimeout = d
	}
	if fc.MaxFileBytes != nil {
		if *fc.MaxFileBytes <= 0 {
			return Config{}, fmt.Errorf("max_file_bytes must be positive, got %d", *fc.MaxFileBytes)
		}
		cfg.MaxFileBytes = *fc.MaxFileBytes
	}
	if fc.RulesFile != "" {
		cfg.RulesFile = fc.RulesFile
	}
	if fc.Scan != nil {
		sc, err := applyScan(cfg.Scan, *fc.Scan)
		if err != nil {
			return Config{}, err
		}
		cfg.Scan = sc
	}
	return cfg, nil
}

func applyScan(sc model.ScanConfig, in scanConfig) (model.ScanConfig, error) {
	if in.EnableStatic != nil {
		sc.EnableStatic = *in.EnableStatic
	}
	if in.EnableAI != nil {
		sc.EnableAI = *in.EnableAI
	}
	if in.Model != "" {
		sc.Model = in.Model
	}
	if in.MaxConcurrentAI != nil {
		sc.MaxConcurrentAI = *in.MaxConcurrentAI
	}
	if in.Languages != nil {
		sc.Languages = append([]string(nil), in.Languages...)
	}
	if in.ExcludePaths != nil {
		sc.ExcludePaths = append([]string(nil), in.ExcludePaths...)
	}
	if in.SeverityThreshold != "" {
		sev, ok := model.ParseSeverity(in.SeverityThreshold)
		if !ok {
			return model.ScanConfig{}, fmt.Errorf("scan.severity_threshold: unknown severity %q", in.SeverityThreshold)
		}
		sc.SeverityThreshold = sev
	}
	return sc.Normalize(), nil
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
