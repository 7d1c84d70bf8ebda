package config

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchToggles re-resolves the profile whenever the config file is written
// and hands the new modality toggles to apply. An invalid edit is logged and
// the previous toggles stay in effect.
func WatchToggles(configFile, profile string, apply func(map[recorder.Modality]bool)) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := LoadWithProfile(configFile, profile)
		if err != nil {
			slog.Warn("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("Config changed, applying modality toggles", "file", e.Name, "profile", cfg.Profile)
		apply(cfg.Toggles())
	})
	v.WatchConfig()
	return nil
}
