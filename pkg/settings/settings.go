// Package settings manages persistent user settings for the newtval CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences
type Settings struct {
	// Testbed is the testbed file to use when --testbed is not specified
	Testbed string `json:"testbed,omitempty"`

	// SuitesDir is where `newtval run <suite>` looks up suite names
	SuitesDir string `json:"suites_dir,omitempty"`

	// ReportDir is where run reports are written
	ReportDir string `json:"report_dir,omitempty"`

	// DefaultDUT is the DUT single-DUT cases use when a suite does not pick one
	DefaultDUT string `json:"default_dut,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtval_settings.json"
	}
	return filepath.Join(home, ".newtval", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Set assigns a setting by its JSON key. It reports false for unknown keys.
func (s *Settings) Set(key, value string) bool {
	switch key {
	case "testbed":
		s.Testbed = value
	case "suites_dir":
		s.SuitesDir = value
	case "report_dir":
		s.ReportDir = value
	case "default_dut":
		s.DefaultDUT = value
	default:
		return false
	}
	return true
}

// Keys returns the settable keys in display order.
func Keys() []string {
	return []string{"testbed", "suites_dir", "report_dir", "default_dut"}
}

// Get returns a setting by its JSON key.
func (s *Settings) Get(key string) string {
	switch key {
	case "testbed":
		return s.Testbed
	case "suites_dir":
		return s.SuitesDir
	case "report_dir":
		return s.ReportDir
	case "default_dut":
		return s.DefaultDUT
	}
	return ""
}

// GetReportDir returns the report directory (with fallback)
func (s *Settings) GetReportDir() string {
	if s.ReportDir != "" {
		return s.ReportDir
	}
	return "reports"
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
