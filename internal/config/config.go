// Package config holds persisted, user-editable defaults for opening
// datasets: where the local cache lives and what painter tunables to use
// absent an explicit per-call override. It follows the same global+local,
// JSON-on-disk, dotted-key layering a developer would expect from other
// command-line tools: a local cache directory's config overrides the
// user's global one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the transport's persisted defaults.
type Config struct {
	Cache   CacheConfig   `json:"cache"`
	Painter PainterConfig `json:"painter"`
}

// CacheConfig controls where acquired reference trees, local trees, and
// content bytes are cached on disk.
type CacheConfig struct {
	Root string `json:"root,omitempty"`
}

// PainterConfig mirrors painter.Config's fields as persisted, overridable
// defaults; zero values mean "use painter.DefaultConfig's choice."
type PainterConfig struct {
	MinDownloadSize     int64 `json:"min_download_size,omitempty"`
	MaxDownloadSize     int64 `json:"max_download_size,omitempty"`
	AutobufferThreshold int   `json:"autobuffer_threshold,omitempty"`
	ReadaheadRequests   int   `json:"readahead_requests,omitempty"`
	VerifyRetries       int   `json:"verify_retries,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults: a cache root under
// the user's cache directory and no painter overrides.
func DefaultConfig() *Config {
	root := ""
	if dir, err := os.UserCacheDir(); err == nil {
		root = filepath.Join(dir, "nbdatatools-sub006")
	}
	return &Config{
		Cache: CacheConfig{Root: root},
	}
}

func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".nbdtconfig"), nil
}

func localConfigPath(cacheDir string) string {
	return filepath.Join(cacheDir, "config.json")
}

// Load reads the global config, then layers a cache-directory-local config
// on top if one exists. Missing files are not an error: defaults apply.
func Load(cacheDir string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath, err := globalConfigPath(); err == nil {
		if data, err := os.ReadFile(globalPath); err == nil {
			var globalCfg Config
			if err := json.Unmarshal(data, &globalCfg); err == nil {
				merge(cfg, &globalCfg)
			}
		}
	}

	if cacheDir != "" {
		if data, err := os.ReadFile(localConfigPath(cacheDir)); err == nil {
			var localCfg Config
			if err := json.Unmarshal(data, &localCfg); err == nil {
				merge(cfg, &localCfg)
			}
		}
	}

	return cfg, nil
}

// SaveGlobal persists cfg to the user's global config file.
func SaveGlobal(cfg *Config) error {
	path, err := globalConfigPath()
	if err != nil {
		return err
	}
	return writeJSON(path, cfg)
}

// SaveLocal persists cfg to cacheDir's local config file, creating cacheDir
// if necessary.
func SaveLocal(cacheDir string, cfg *Config) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", cacheDir, err)
	}
	return writeJSON(localConfigPath(cacheDir), cfg)
}

func writeJSON(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetValue retrieves a configuration value by dotted key (e.g.
// "cache.root", "painter.verify_retries").
func GetValue(cacheDir, key string) (string, error) {
	cfg, err := Load(cacheDir)
	if err != nil {
		return "", err
	}
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}
	switch section {
	case "cache":
		switch field {
		case "root":
			return cfg.Cache.Root, nil
		}
	case "painter":
		switch field {
		case "min_download_size":
			return strconv.FormatInt(cfg.Painter.MinDownloadSize, 10), nil
		case "max_download_size":
			return strconv.FormatInt(cfg.Painter.MaxDownloadSize, 10), nil
		case "autobuffer_threshold":
			return strconv.Itoa(cfg.Painter.AutobufferThreshold), nil
		case "readahead_requests":
			return strconv.Itoa(cfg.Painter.ReadaheadRequests), nil
		case "verify_retries":
			return strconv.Itoa(cfg.Painter.VerifyRetries), nil
		}
	}
	return "", fmt.Errorf("unknown config key: %s", key)
}

// SetValue sets a configuration value by dotted key and persists it, either
// to the global config or to cacheDir's local one.
func SetValue(cacheDir, key, value string, global bool) error {
	var cfg *Config
	if global {
		path, err := globalConfigPath()
		if err != nil {
			return err
		}
		cfg = loadOrDefault(path)
	} else {
		cfg = loadOrDefault(localConfigPath(cacheDir))
	}

	section, field, err := splitKey(key)
	if err != nil {
		return err
	}
	switch section {
	case "cache":
		switch field {
		case "root":
			cfg.Cache.Root = value
		default:
			return fmt.Errorf("unknown cache config field: %s", field)
		}
	case "painter":
		if err := setPainterField(cfg, field, value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown config section: %s", section)
	}

	if global {
		return SaveGlobal(cfg)
	}
	return SaveLocal(cacheDir, cfg)
}

func setPainterField(cfg *Config, field, value string) error {
	switch field {
	case "min_download_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Painter.MinDownloadSize = n
	case "max_download_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Painter.MaxDownloadSize = n
	case "autobuffer_threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Painter.AutobufferThreshold = n
	case "readahead_requests":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Painter.ReadaheadRequests = n
	case "verify_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Painter.VerifyRetries = n
	default:
		return fmt.Errorf("unknown painter config field: %s", field)
	}
	return nil
}

func loadOrDefault(path string) *Config {
	if data, err := os.ReadFile(path); err == nil {
		cfg := &Config{}
		if err := json.Unmarshal(data, cfg); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

func splitKey(key string) (section, field string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid config key: %s (expected format: section.key)", key)
	}
	return parts[0], parts[1], nil
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *Config) {
	if src.Cache.Root != "" {
		dst.Cache.Root = src.Cache.Root
	}
	if src.Painter.MinDownloadSize != 0 {
		dst.Painter.MinDownloadSize = src.Painter.MinDownloadSize
	}
	if src.Painter.MaxDownloadSize != 0 {
		dst.Painter.MaxDownloadSize = src.Painter.MaxDownloadSize
	}
	if src.Painter.AutobufferThreshold != 0 {
		dst.Painter.AutobufferThreshold = src.Painter.AutobufferThreshold
	}
	if src.Painter.ReadaheadRequests != 0 {
		dst.Painter.ReadaheadRequests = src.Painter.ReadaheadRequests
	}
	if src.Painter.VerifyRetries != 0 {
		dst.Painter.VerifyRetries = src.Painter.VerifyRetries
	}
}

// ApplyOverrides returns base with any non-zero fields in p layered on top,
// as a PainterOverrideTarget that converts directly to painter.Config.
func (p PainterConfig) ApplyOverrides(base PainterOverrideTarget) PainterOverrideTarget {
	if p.MinDownloadSize != 0 {
		base.MinDownloadSize = p.MinDownloadSize
	}
	if p.MaxDownloadSize != 0 {
		base.MaxDownloadSize = p.MaxDownloadSize
	}
	if p.AutobufferThreshold != 0 {
		base.AutobufferThreshold = p.AutobufferThreshold
	}
	if p.ReadaheadRequests != 0 {
		base.ReadaheadRequests = p.ReadaheadRequests
	}
	if p.VerifyRetries != 0 {
		base.VerifyRetries = p.VerifyRetries
	}
	return base
}

// PainterOverrideTarget is structurally identical to painter.Config. Config
// avoids importing the painter package directly to keep config a leaf
// dependency; callers convert with painter.Config(cfg.Painter.ApplyOverrides(...)).
type PainterOverrideTarget struct {
	MinDownloadSize     int64
	MaxDownloadSize     int64
	AutobufferThreshold int
	ReadaheadRequests   int
	VerifyRetries       int
}
