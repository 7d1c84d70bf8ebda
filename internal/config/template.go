package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultRoot renders the built-in defaults as a config file with a single
// "default" profile.
func DefaultRoot() *RootConfig {
	d := Default()
	countdown := d.Capture.Countdown
	maxBytes := d.Capture.MaxBytes
	p := &Profile{
		Capture: CaptureConfig{
			Mode:      string(d.Capture.Mode),
			Countdown: &countdown,
			Tick:      d.Capture.Tick,
			MaxBytes:  &maxBytes,
		},
		Modalities: map[string]ModalityConfig{},
	}
	for _, mc := range d.Modalities {
		enabled := mc.Enabled
		entry := ModalityConfig{Enabled: &enabled, Rate: mc.Rate, Width: mc.Width, Height: mc.Height, Scale: mc.Scale}
		if mc.Width > 0 {
			skip := mc.Skip
			entry.Skip = &skip
		}
		p.Modalities[mc.Name] = entry
	}

	storage := d.Storage
	storage.Root = "~/.local/share/sensorcapture"
	return &RootConfig{
		ActiveProfile: "default",
		Storage:       &storage,
		Profiles:      map[string]*Profile{"default": p},
	}
}

// WriteDefault creates configFile from DefaultRoot. It refuses to overwrite
// an existing file unless force is set.
func WriteDefault(configFile string, force bool) error {
	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("config file %s already exists", configFile)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error checking config file %s: %w", configFile, err)
	}

	out, err := yaml.Marshal(DefaultRoot())
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configFile, out, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}
