package config

// Config is the application configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Module    ModuleConfig    `json:"module"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Conf      ConfConfig      `json:"conf"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ModuleConfig identifies the running module.
type ModuleConfig struct {
	// Version is compared against minAppVersion of every task config blob.
	Version int    `json:"version"`
	DataDir string `json:"data_dir,omitempty"`
}

// SchedulerConfig controls the periodic driver.
//
// Defaults (when fields are omitted/zero):
//   - tick: "1m"
//   - offset: "0s"
//   - task_timeout: "30s"
//   - check_update_every: "0s" (disabled)
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Tick    string `json:"tick,omitempty"`
	// Offset is the reference clock minus the local clock. May be negative.
	Offset           string `json:"offset,omitempty"`
	TaskTimeout      string `json:"task_timeout,omitempty"`
	Paused           bool   `json:"paused,omitempty"`
	CheckUpdateEvery string `json:"check_update_every,omitempty"`
}

// ConfConfig controls where task configuration comes from.
type ConfConfig struct {
	// Codec names the Decrypter applied to every blob: "plain" or "base64".
	Codec string `json:"codec,omitempty"`
	// BundledPath replaces the built-in default blob. Required when the
	// codec is not "plain".
	BundledPath string `json:"bundled_path,omitempty"`

	NoticeURL           string `json:"notice_url,omitempty"`
	VersionsURL         string `json:"versions_url,omitempty"`
	DownloadURLTemplate string `json:"download_url_template,omitempty"`
	FetchMinInterval    string `json:"fetch_min_interval,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/autodaily" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	HistoryLimit int    `json:"history_limit,omitempty"`
}

// HTTPConfig applies to the update client and the http executor.
type HTTPConfig struct {
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
