package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v2"
)

// ServerConfig is config/server.yaml.
type ServerConfig struct {
	ListenAddr         string   `yaml:"listen_addr" json:"listen_addr"`
	PresetsFile        string   `yaml:"presets_file" json:"presets_file"`
	CacheDir           string   `yaml:"cache_dir" json:"cache_dir"`
	BatchWorkers       int      `yaml:"batch_workers" json:"batch_workers"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
	RunMigrations      bool     `yaml:"run_migrations" json:"run_migrations"`
}

// Default is used for any field the file leaves empty.
func Default() ServerConfig {
	return ServerConfig{
		ListenAddr:         ":8080",
		PresetsFile:        "config/waterfalls.yaml",
		CacheDir:           ".cache/distributions",
		BatchWorkers:       4,
		CORSAllowedOrigins: []string{"*"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (ServerConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read server config %s: %w", path, err)
	}

	var file ServerConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse server config %s: %w", path, err)
	}
	if file.ListenAddr != "" {
		cfg.ListenAddr = file.ListenAddr
	}
	if file.PresetsFile != "" {
		cfg.PresetsFile = file.PresetsFile
	}
	if file.CacheDir != "" {
		cfg.CacheDir = file.CacheDir
	}
	if file.BatchWorkers > 0 {
		cfg.BatchWorkers = file.BatchWorkers
	}
	if len(file.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = file.CORSAllowedOrigins
	}
	cfg.RunMigrations = file.RunMigrations
	return cfg, nil
}
