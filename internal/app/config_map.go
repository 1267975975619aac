package app

import (
	"fmt"
	"strings"
	"time"

	"tasktimer/internal/config"
	"tasktimer/internal/executor"
	"tasktimer/internal/persist"
	logx "tasktimer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.ParseDurationField("executor.fire_timeout", cfg.Executor.FireTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	every, err := config.ParseDurationField("executor.failure_log_every", cfg.Executor.FailureLogEvery)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		Timezone:        strings.TrimSpace(cfg.Executor.Timezone),
		FireTimeout:     timeout,
		FailureLogEvery: every,
	}, nil
}

// mapPersistConfig reports enabled=false when persistence is switched off.
func mapPersistConfig(cfg *config.Config) (persist.Config, bool, error) {
	pc := cfg.Persistence
	driver := strings.ToLower(strings.TrimSpace(pc.Driver))
	path := strings.TrimSpace(pc.Path)
	if driver == "none" || (driver == "" && path == "") {
		return persist.Config{}, false, nil
	}
	if path == "" {
		return persist.Config{}, false, fmt.Errorf("persistence.path is required when persistence.driver=%s", driver)
	}
	busy := time.Second
	if strings.TrimSpace(pc.BusyTimeout) != "" {
		d, err := config.ParseDurationField("persistence.busy_timeout", pc.BusyTimeout)
		if err != nil {
			return persist.Config{}, false, err
		}
		busy = d
	}
	return persist.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}
