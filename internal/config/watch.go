package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch loads configuration and calls onChange with the re-decoded config every
// time the config file is written. Invalid edits are logged and skipped so a
// running server keeps its last good configuration.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}
