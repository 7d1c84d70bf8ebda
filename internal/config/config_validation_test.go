package config

import (
	"strings"
	"testing"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	configFile := createTempConfig(t, sampleConfig)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rootConfig.ActiveProfile != "lab" {
		t.Errorf("Expected active profile 'lab', got %s", rootConfig.ActiveProfile)
	}
	if names := rootConfig.ProfileNames(); len(names) != 2 || names[0] != "default" || names[1] != "lab" {
		t.Errorf("Expected profiles [default lab], got %v", names)
	}
	if rootConfig.Storage == nil || rootConfig.Storage.Folder != "TofArData" {
		t.Errorf("Expected storage folder TofArData, got %+v", rootConfig.Storage)
	}
	lab := rootConfig.Profiles["lab"]
	if lab.Modalities["depth"].Enabled == nil || *lab.Modalities["depth"].Enabled {
		t.Errorf("Expected depth explicitly disabled in lab, got %+v", lab.Modalities["depth"])
	}
}

func TestValidateConfigurationFormat_ByteSizes(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected ByteSize
	}{
		{"binary suffix", "1GiB", 1 << 30},
		{"decimal suffix", "10MB", 10 * 1000 * 1000},
		{"plain integer", "4096", 4096},
		{"zero disables the budget", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, `
profiles:
  default:
    capture:
      max_bytes: `+tt.value+`
`)
			cfg, err := LoadWithProfile(configFile, "")
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if cfg.Capture.MaxBytes != tt.expected {
				t.Errorf("Expected %d bytes, got %d", uint64(tt.expected), uint64(cfg.Capture.MaxBytes))
			}
		})
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		errText string
	}{
		{
			name: "unknown mode",
			profile: `
    capture:
      mode: burst`,
			errText: "unknown capture mode",
		},
		{
			name: "unknown modality",
			profile: `
    modalities:
      thermal:
        enabled: true`,
			errText: "unknown modality",
		},
		{
			name: "bad color scale",
			profile: `
    modalities:
      color:
        scale: 3`,
			errText: "'scale' must be 1, 2, 4 or 10",
		},
		{
			name: "negative skip",
			profile: `
    modalities:
      depth:
        skip: -1`,
			errText: "'skip' must be >= 0",
		},
		{
			name: "negative rate",
			profile: `
    modalities:
      hand:
        rate: -5`,
			errText: "'rate' must be > 0",
		},
		{
			name: "rate above sensor limit",
			profile: `
    modalities:
      depth:
        rate: 2000000000`,
			errText: "'rate' must be > 0 and <= 1000",
		},
		{
			name: "bad byte size",
			profile: `
    capture:
      max_bytes: lots`,
			errText: "invalid byte size",
		},
		{
			name: "negative countdown",
			profile: `
    capture:
      countdown: -1s`,
			errText: "capture.countdown must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, "profiles:\n  default:"+tt.profile+"\n")
			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("Expected error containing %q, got: %v", tt.errText, err)
			}
		})
	}
}

func TestResolve_WithoutProfiles(t *testing.T) {
	cfg, err := Resolve(&RootConfig{}, "")
	if err != nil {
		t.Fatalf("Expected built-in defaults, got error: %v", err)
	}
	hand, ok := cfg.Setting(recorder.Hand)
	if !ok || !hand.Enabled {
		t.Errorf("Expected hand enabled by default, got %+v", hand)
	}
	color, _ := cfg.Setting(recorder.Color)
	if color.Enabled {
		t.Error("Expected color disabled by default")
	}
}

func TestParseByteSize(t *testing.T) {
	n, err := ParseByteSize("2 KiB")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n != 2048 {
		t.Errorf("Expected 2048, got %d", uint64(n))
	}
	if n.String() != "2.0 KiB" {
		t.Errorf("Expected '2.0 KiB', got %s", n.String())
	}
	if _, err := ParseByteSize("two"); err == nil {
		t.Error("Expected error for an invalid size")
	}
}
