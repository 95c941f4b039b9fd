package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"autodaily/assets"
	"autodaily/internal/config"
	"autodaily/internal/executors/httpreq"
	"autodaily/internal/remote"
	"autodaily/internal/task/scheduler"
	logx "autodaily/pkg/logx"
)

const (
	defaultUserAgent = "autodaily"
	// defaultModuleVersion applies when module.version is unset. The
	// embedded configuration requires at least this version.
	defaultModuleVersion = 1
)

func moduleVersion(cfg *config.Config) int {
	if cfg.Module.Version > 0 {
		return cfg.Module.Version
	}
	return defaultModuleVersion
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick", sc.Tick, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	offset, err := config.ParseSignedDurationField("scheduler.offset", sc.Offset)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.task_timeout", sc.TaskTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	every, err := config.ParseDurationField("scheduler.check_update_every", sc.CheckUpdateEvery)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:          sc.Enabled,
		Tick:             tick,
		Offset:           offset,
		TaskTimeout:      timeout,
		Paused:           sc.Paused,
		CheckUpdateEvery: every,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpreq.Config, error) {
	timeout, err := config.ParseDurationOrDefault("http.timeout", cfg.HTTP.Timeout, 15*time.Second)
	if err != nil {
		return httpreq.Config{}, err
	}
	ua := strings.TrimSpace(cfg.HTTP.UserAgent)
	if ua == "" {
		ua = fmt.Sprintf("%s/%d", defaultUserAgent, moduleVersion(cfg))
	}
	return httpreq.Config{Timeout: timeout, UserAgent: ua}, nil
}

func mapRemoteConfig(cfg *config.Config) (remote.Config, error) {
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return remote.Config{}, err
	}
	every, err := config.ParseDurationField("conf.fetch_min_interval", cfg.Conf.FetchMinInterval)
	if err != nil {
		return remote.Config{}, err
	}
	return remote.Config{
		NoticeURL:           strings.TrimSpace(cfg.Conf.NoticeURL),
		VersionsURL:         strings.TrimSpace(cfg.Conf.VersionsURL),
		DownloadURLTemplate: strings.TrimSpace(cfg.Conf.DownloadURLTemplate),
		MinInterval:         every,
		Timeout:             hc.Timeout,
		UserAgent:           hc.UserAgent,
	}, nil
}

// remoteConfigured reports whether any update endpoint is set.
func remoteConfigured(rc remote.Config) bool {
	return rc.NoticeURL != "" || rc.VersionsURL != "" || rc.DownloadURLTemplate != ""
}

// loadBundled returns the default blob: the configured file, or the
// embedded plain-text configuration.
func loadBundled(cfg *config.Config) ([]byte, error) {
	p := strings.TrimSpace(cfg.Conf.BundledPath)
	if p == "" {
		return assets.DefaultConf, nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("conf.bundled_path: %w", err)
	}
	return b, nil
}
