package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetReportDir(); got != "reports" {
		t.Errorf("GetReportDir() default = %q, want %q", got, "reports")
	}
	if s.Testbed != "" {
		t.Errorf("Testbed should be empty, got %q", s.Testbed)
	}
}

func TestSettings_SetGet(t *testing.T) {
	s := &Settings{}

	for _, key := range Keys() {
		if !s.Set(key, "/x/"+key) {
			t.Errorf("Set(%q) = false, want true", key)
		}
		if got := s.Get(key); got != "/x/"+key {
			t.Errorf("Get(%q) = %q, want %q", key, got, "/x/"+key)
		}
	}
	if s.Set("no_such_key", "v") {
		t.Error("Set(no_such_key) = true, want false")
	}
	if got := s.GetReportDir(); got != "/x/report_dir" {
		t.Errorf("GetReportDir() = %q", got)
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{
		Testbed:    "tb.yaml",
		SuitesDir:  "/suites",
		ReportDir:  "/reports",
		DefaultDUT: "upper-tor",
	}

	s.Clear()

	if diff := cmp.Diff(Settings{}, *s); diff != "" {
		t.Errorf("Clear() left fields set (-want +got):\n%s", diff)
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	original := &Settings{
		Testbed:    "/etc/newtval/vms-kvm-dual-t0.yaml",
		SuitesDir:  "/etc/newtval/suites",
		ReportDir:  "/var/tmp/newtval",
		DefaultDUT: "upper-tor",
	}

	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if diff := cmp.Diff(original, loaded); diff != "" {
		t.Errorf("LoadFrom() mismatch (-want +got):\n%s", diff)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil {
		t.Fatal("LoadFrom() should return non-nil Settings")
	}
	if s.Testbed != "" || s.SuitesDir != "" {
		t.Error("LoadFrom() non-existent should return empty settings")
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("invalid json {"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid JSON should error")
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.json")

	s := &Settings{Testbed: "tb.yaml"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestLoadSave_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got, want := DefaultSettingsPath(), filepath.Join(home, ".newtval", "settings.json"); got != want {
		t.Errorf("DefaultSettingsPath() = %q, want %q", got, want)
	}

	s := &Settings{DefaultDUT: "lower-tor"}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.DefaultDUT != "lower-tor" {
		t.Errorf("DefaultDUT = %q, want %q", loaded.DefaultDUT, "lower-tor")
	}
}
