package task

import "time"

// RunRecord is one executor invocation, kept for history and diagnostics.
type RunRecord struct {
	At        time.Time     `json:"at"`
	RunID     string        `json:"run_id"`
	Group     string        `json:"group"`
	Task      string        `json:"task"`
	OK        bool          `json:"ok"`
	Transient bool          `json:"transient,omitempty"`
	Error     string        `json:"error,omitempty"`
	Took      time.Duration `json:"took"`
}
