package advisory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"spark/internal/statedir"
)

// Memory modes for the setup flow.
const (
	MemoryModeOff      = "off"
	MemoryModeStandard = "standard"
	MemoryModeReplay   = "replay"
)

// Guidance styles.
const (
	StyleConcise  = "concise"
	StyleBalanced = "balanced"
	StyleCoach    = "coach"
)

// Settings is the operator-facing advisory configuration written by
// `spark advisory setup`.
type Settings struct {
	MemoryMode    string `yaml:"memory_mode"`
	GuidanceStyle string `yaml:"guidance_style"`
}

// DefaultSettings returns the out-of-box configuration.
func DefaultSettings() Settings {
	return Settings{MemoryMode: MemoryModeStandard, GuidanceStyle: StyleBalanced}
}

// Validate rejects unknown modes and styles.
func (s Settings) Validate() error {
	switch s.MemoryMode {
	case MemoryModeOff, MemoryModeStandard, MemoryModeReplay:
	default:
		return fmt.Errorf("unknown memory mode %q", s.MemoryMode)
	}
	switch s.GuidanceStyle {
	case StyleConcise, StyleBalanced, StyleCoach:
	default:
		return fmt.Errorf("unknown guidance style %q", s.GuidanceStyle)
	}
	return nil
}

// LoadSettings reads settings.yaml, falling back to defaults when absent.
func LoadSettings(layout *statedir.Layout) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(layout.AdvisorySettings())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read advisory settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to parse advisory settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

// SaveSettings validates and writes settings.yaml atomically.
func SaveSettings(layout *statedir.Layout, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal advisory settings: %w", err)
	}
	return statedir.AtomicWrite(layout.AdvisorySettings(), data, 0o644)
}
