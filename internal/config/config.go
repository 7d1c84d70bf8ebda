package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/capture"
	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/audiolibrelab/sensorcapture/internal/sensor"
	"github.com/spf13/viper"
)

type StorageConfig struct {
	Root       string `mapstructure:"root" yaml:"root"`
	Folder     string `mapstructure:"folder" yaml:"folder"`
	RetainRows bool   `mapstructure:"retain_rows" yaml:"retain_rows"`
}

// Dir is the directory all recorders write into
func (s StorageConfig) Dir() string {
	return filepath.Join(expandPath(s.Root), s.Folder)
}

// CaptureConfig is one profile's capture section. A max_bytes of 0 disables
// the byte budget.
type CaptureConfig struct {
	Mode      string    `mapstructure:"mode" yaml:"mode"`
	Countdown *Duration `mapstructure:"countdown" yaml:"countdown,omitempty"`
	Tick      Duration  `mapstructure:"tick" yaml:"tick,omitempty"`
	MaxBytes  *ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty"`
}

type ModalityConfig struct {
	Enabled *bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Rate    float64 `mapstructure:"rate" yaml:"rate,omitempty"`
	Width   int     `mapstructure:"width" yaml:"width,omitempty"`
	Height  int     `mapstructure:"height" yaml:"height,omitempty"`
	Scale   int     `mapstructure:"scale" yaml:"scale,omitempty"`
	Skip    *int    `mapstructure:"skip" yaml:"skip,omitempty"`
}

type Profile struct {
	Capture    CaptureConfig             `mapstructure:"capture" yaml:"capture"`
	Modalities map[string]ModalityConfig `mapstructure:"modalities" yaml:"modalities"`
}

type RootConfig struct {
	ActiveProfile string              `mapstructure:"active_profile" yaml:"active_profile"`
	Storage       *StorageConfig      `mapstructure:"storage,omitempty" yaml:"storage,omitempty"`
	Profiles      map[string]*Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Modality is the resolved setting of one sensor stream
type Modality struct {
	Modality recorder.Modality `yaml:"-"`
	Name     string            `yaml:"name"`
	Enabled  bool              `yaml:"enabled"`
	Rate     float64           `yaml:"rate"`
	Width    int               `yaml:"width,omitempty"`
	Height   int               `yaml:"height,omitempty"`
	Scale    int               `yaml:"scale,omitempty"`
	Skip     int               `yaml:"skip,omitempty"`
}

// Config is a profile resolved against the defaults
type Config struct {
	Profile    string        `yaml:"profile"`
	Storage    StorageConfig `yaml:"storage"`
	Capture    Resolved      `yaml:"capture"`
	Modalities []Modality    `yaml:"modalities"`

	// Internal field to track inheritance information for info command
	Inheritance map[string]string `yaml:"-"`
}

type Resolved struct {
	Mode      capture.Mode `yaml:"mode"`
	Countdown Duration     `yaml:"countdown"`
	Tick      Duration     `yaml:"tick"`
	MaxBytes  ByteSize     `yaml:"max_bytes"`
}

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

// Default returns the built-in configuration used beneath every profile
func Default() *Config {
	cfg := &Config{
		Profile: "default",
		Storage: StorageConfig{
			Root:   filepath.Join(os.Getenv("HOME"), ".local", "share", "sensorcapture"),
			Folder: "TofArData",
		},
		Capture: Resolved{
			Mode:      capture.ModeMultiple,
			Countdown: Duration(capture.DefaultCountdown),
			Tick:      Duration(capture.DefaultTick),
			MaxBytes:  ByteSize(capture.DefaultMaxBytes),
		},
		Inheritance: map[string]string{},
	}
	for _, m := range recorder.AllModalities() {
		mc := Modality{Modality: m, Name: m.String(), Rate: 30}
		switch m {
		case recorder.Hand, recorder.Body:
			mc.Enabled = true
		case recorder.Depth:
			mc.Enabled = true
			mc.Rate, mc.Width, mc.Height = 15, 320, 240
		case recorder.Color:
			mc.Rate, mc.Width, mc.Height, mc.Scale = 15, 640, 480, 1
		}
		cfg.Modalities = append(cfg.Modalities, mc)
	}
	return cfg
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return Resolve(rootConfig, profile)
}

// Resolve picks the requested profile (or active_profile, or "default") and
// layers it over the default profile and the built-in defaults.
func Resolve(rootConfig *RootConfig, profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveProfile
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Profiles[configName]
	if !exists && configName != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	cfg := Default()
	cfg.Profile = configName
	if rootConfig.Storage != nil {
		mergeStorage(&cfg.Storage, *rootConfig.Storage)
	}

	if configName != "default" {
		if base, ok := rootConfig.Profiles["default"]; ok {
			if err := mergeProfile(cfg, base, false); err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
		}
	}
	if selected != nil {
		if err := mergeProfile(cfg, selected, true); err != nil {
			return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
		}
	}

	cfg.Storage.Root = expandPath(cfg.Storage.Root)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func mergeStorage(dst *StorageConfig, src StorageConfig) {
	if src.Root != "" {
		dst.Root = src.Root
	}
	if src.Folder != "" {
		dst.Folder = src.Folder
	}
	dst.RetainRows = src.RetainRows
}

// mergeProfile overrides cfg with every field set in p. Fields set by the
// selected profile are reported as profile-specific, everything else stays
// inherited.
func mergeProfile(cfg *Config, p *Profile, specific bool) error {
	mark := func(key string) {
		if specific {
			cfg.Inheritance[key] = profileSpecific
		}
	}

	if p.Capture.Mode != "" {
		mode, err := capture.ParseMode(p.Capture.Mode)
		if err != nil {
			return err
		}
		cfg.Capture.Mode = mode
		mark("capture.mode")
	}
	if p.Capture.Countdown != nil {
		cfg.Capture.Countdown = *p.Capture.Countdown
		mark("capture.countdown")
	}
	if p.Capture.Tick != 0 {
		cfg.Capture.Tick = p.Capture.Tick
		mark("capture.tick")
	}
	if p.Capture.MaxBytes != nil {
		cfg.Capture.MaxBytes = *p.Capture.MaxBytes
		mark("capture.max_bytes")
	}

	for name, mc := range p.Modalities {
		m, err := recorder.ParseModality(name)
		if err != nil {
			return fmt.Errorf("modalities.%s: %w", name, err)
		}
		dst := cfg.modality(m)
		if mc.Enabled != nil {
			dst.Enabled = *mc.Enabled
			mark("modalities." + m.String() + ".enabled")
		}
		if mc.Rate != 0 {
			dst.Rate = mc.Rate
		}
		if mc.Width != 0 {
			dst.Width = mc.Width
		}
		if mc.Height != 0 {
			dst.Height = mc.Height
		}
		if mc.Scale != 0 {
			dst.Scale = mc.Scale
		}
		if mc.Skip != nil {
			dst.Skip = *mc.Skip
		}
	}
	return nil
}

func (c *Config) modality(m recorder.Modality) *Modality {
	for i := range c.Modalities {
		if c.Modalities[i].Modality == m {
			return &c.Modalities[i]
		}
	}
	c.Modalities = append(c.Modalities, Modality{Modality: m, Name: m.String()})
	return &c.Modalities[len(c.Modalities)-1]
}

// Setting returns the resolved settings of m
func (c *Config) Setting(m recorder.Modality) (Modality, bool) {
	for _, mc := range c.Modalities {
		if mc.Modality == m {
			return mc, true
		}
	}
	return Modality{}, false
}

// Toggles returns the enabled flag of every configured modality
func (c *Config) Toggles() map[recorder.Modality]bool {
	out := make(map[recorder.Modality]bool, len(c.Modalities))
	for _, mc := range c.Modalities {
		out[mc.Modality] = mc.Enabled
	}
	return out
}

// Source reports whether key was set by the selected profile
func (c *Config) Source(key string) string {
	if s, ok := c.Inheritance[key]; ok {
		return s
	}
	return inherited
}

// CaptureOptions converts the capture section into orchestrator options
func (c *Config) CaptureOptions() []capture.Option {
	return []capture.Option{
		capture.WithMode(c.Capture.Mode),
		capture.WithCountdown(c.Capture.Countdown.Std()),
		capture.WithTick(c.Capture.Tick.Std()),
		capture.WithMaxBytes(int64(c.Capture.MaxBytes)),
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if strings.TrimSpace(cfg.Storage.Folder) == "" {
		return fmt.Errorf("storage.folder is required")
	}
	if cfg.Capture.Countdown < 0 {
		return fmt.Errorf("capture.countdown must be >= 0, got %s", cfg.Capture.Countdown)
	}
	if cfg.Capture.Tick <= 0 {
		return fmt.Errorf("capture.tick must be > 0, got %s", cfg.Capture.Tick)
	}
	if time.Duration(cfg.Capture.Tick) > time.Second {
		return fmt.Errorf("capture.tick must be <= 1s, got %s", cfg.Capture.Tick)
	}
	if int64(cfg.Capture.MaxBytes) < 0 {
		return fmt.Errorf("capture.max_bytes overflows, got %d", uint64(cfg.Capture.MaxBytes))
	}

	for _, mc := range cfg.Modalities {
		prefix := "modalities." + mc.Name
		if mc.Rate <= 0 || mc.Rate > sensor.MaxRate {
			return fmt.Errorf("%s: 'rate' must be > 0 and <= %d, got: %.2f", prefix, sensor.MaxRate, mc.Rate)
		}
		layout, err := sensor.LayoutFor(mc.Modality)
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if layout.Kind != recorder.KindBlob {
			continue
		}
		if mc.Width <= 0 || mc.Height <= 0 {
			return fmt.Errorf("%s: 'width' and 'height' must be > 0, got %dx%d", prefix, mc.Width, mc.Height)
		}
		if mc.Skip < 0 {
			return fmt.Errorf("%s: 'skip' must be >= 0, got: %d", prefix, mc.Skip)
		}
		if mc.Modality == recorder.Color && !sensor.ValidScale(mc.Scale) {
			return fmt.Errorf("%s: 'scale' must be 1, 2, 4 or 10, got: %d", prefix, mc.Scale)
		}
	}
	return nil
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	root, err := decodeRoot(v)
	if err != nil {
		return err
	}
	if _, ok := root.Profiles[newActiveProfile]; !ok && newActiveProfile != "default" {
		return fmt.Errorf("configuration profile '%s' not found", newActiveProfile)
	}

	v.Set("active_profile", newActiveProfile)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// ProfileNames lists the profiles of a root config, sorted
func (r *RootConfig) ProfileNames() []string {
	names := make([]string, 0, len(r.Profiles))
	for name := range r.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfigurationFormat reads and decodes the configuration file
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("SENSORCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return decodeRoot(v)
}

func decodeRoot(v *viper.Viper) (*RootConfig, error) {
	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, p := range rootConfig.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile '%s' is empty", name)
		}
		for key := range p.Modalities {
			if _, err := recorder.ParseModality(key); err != nil {
				return nil, fmt.Errorf("profile '%s': %w", name, err)
			}
		}
	}
	return &rootConfig, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
