package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks every field that can be checked without touching the
// network or the file system.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Module.Version < 0 {
		add(errors.New("module.version must be >= 0"))
	}

	_, err := ParseDurationField("scheduler.tick", c.Scheduler.Tick)
	add(err)
	_, err = ParseSignedDurationField("scheduler.offset", c.Scheduler.Offset)
	add(err)
	_, err = ParseDurationField("scheduler.task_timeout", c.Scheduler.TaskTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.check_update_every", c.Scheduler.CheckUpdateEvery)
	add(err)
	_, err = ParseDurationField("conf.fetch_min_interval", c.Conf.FetchMinInterval)
	add(err)
	_, err = ParseDurationField("http.timeout", c.HTTP.Timeout)
	add(err)

	switch codec := strings.ToLower(strings.TrimSpace(c.Conf.Codec)); codec {
	case "", "plain", "none":
	case "base64", "b64":
		if strings.TrimSpace(c.Conf.BundledPath) == "" {
			add(fmt.Errorf("conf.bundled_path is required with codec %q", codec))
		}
	default:
		add(fmt.Errorf("conf.codec: unknown codec %q", c.Conf.Codec))
	}
	if t := c.Conf.DownloadURLTemplate; t != "" && !strings.Contains(t, "{version}") {
		add(errors.New("conf.download_url_template must contain {version}"))
	}

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", st.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
		if st.HistoryLimit < 0 {
			add(errors.New("storage.history_limit must be >= 0"))
		}
	}
	return errors.Join(errs...)
}
