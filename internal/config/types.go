package config

// Config is the on-disk configuration (JSON, or YAML with a .yaml/.yml extension).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Executor    ExecutorConfig    `json:"executor"`
	Persistence PersistenceConfig `json:"persistence"`

	// Tasks are seeded on start. Seeds that conflict with a loaded task are
	// reported and skipped.
	Tasks []TaskConfig `json:"tasks,omitempty"`
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

// ExecutorConfig controls firing.
//
// Defaults (when fields are omitted/zero):
//   - timezone: Local
//   - fire_timeout: "0s" (disabled)
//   - failure_log_every: "5s"
type ExecutorConfig struct {
	Timezone        string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	FireTimeout     string `json:"fire_timeout,omitempty"`
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

// PersistenceConfig controls where the task snapshot lives.
//
// Example:
//
//	"persistence": { "driver": "json", "path": "./tasks.json", "save_on_stop": true }
type PersistenceConfig struct {
	Driver      string `json:"driver"` // json | yaml | sqlite | none
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	SaveOnStop bool `json:"save_on_stop,omitempty"`

	// PruneStaleOnLoad drops tasks that came due while the process was down.
	// Off by default: such tasks otherwise stay listed but never fire.
	PruneStaleOnLoad bool `json:"prune_stale_on_load,omitempty"`
}

// TaskConfig seeds one task.
//
// At accepts RFC3339, "2006-01-02 15:04:05" (executor timezone) or a
// relative offset like "+10s". With Every set the task is recurring and Every
// is a schedule string: "10s", "02:30", "*/5 * * * *", "@hourly".
type TaskConfig struct {
	At          string `json:"at,omitempty"`
	Description string `json:"description"`
	Every       string `json:"every,omitempty"`
}
