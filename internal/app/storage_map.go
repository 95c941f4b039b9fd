package app

import (
	"path/filepath"
	"strings"
	"time"

	"autodaily/internal/config"
	"autodaily/internal/storage"
)

// mapStorageConfig resolves the storage section. A missing section selects
// the memory driver. Relative paths are placed under module.data_dir.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	path := strings.TrimSpace(sc.Path)
	if path != "" && !filepath.IsAbs(path) && strings.TrimSpace(cfg.Module.DataDir) != "" {
		path = filepath.Join(cfg.Module.DataDir, path)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistoryLimit: sc.HistoryLimit}, nil
}
