package config

import (
	"sort"
	"strings"

	logx "autodaily/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// structured attrs for logging. URLs are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Module != newCfg.Module {
		changed = append(changed, "module")
		attrs = append(attrs, logx.Int("module.version", newCfg.Module.Version))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.Bool("scheduler.paused", s.Paused),
			logx.String("scheduler.tick", strings.TrimSpace(s.Tick)),
			logx.String("scheduler.offset", strings.TrimSpace(s.Offset)),
			logx.String("scheduler.task_timeout", strings.TrimSpace(s.TaskTimeout)),
			logx.String("scheduler.check_update_every", strings.TrimSpace(s.CheckUpdateEvery)),
		)
	}

	if oldCfg.Conf != newCfg.Conf {
		changed = append(changed, "conf")
		c := newCfg.Conf
		attrs = append(attrs,
			logx.String("conf.codec", c.Codec),
			logx.Bool("conf.bundled_path_set", strings.TrimSpace(c.BundledPath) != ""),
			logx.Bool("conf.notice_url_set", strings.TrimSpace(c.NoticeURL) != ""),
			logx.String("conf.fetch_min_interval", strings.TrimSpace(c.FetchMinInterval)),
		)
	}

	oSt, nSt := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oSt != nSt {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.ToLower(strings.TrimSpace(nSt.Driver))),
			logx.Bool("storage.path_set", strings.TrimSpace(nSt.Path) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.timeout", strings.TrimSpace(newCfg.HTTP.Timeout)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(st *StorageConfig) StorageConfig {
	if st == nil {
		return StorageConfig{}
	}
	return *st
}
