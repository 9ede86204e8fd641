package config

import (
	"path/filepath"
	"testing"
)

func TestSetValueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := SetValue(path, "queue.debounce_ms", "250"); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Queue.DebounceMs != 250 {
		t.Errorf("numbers must keep their type: %d", cfg.Queue.DebounceMs)
	}
}

func TestSetValueRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	if err := SetValue(path, "queue.mode", "yolo"); err == nil {
		t.Fatal("invalid mode should be rejected")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.Mode != "collect" {
		t.Errorf("file must be untouched after a rejected set: %q", cfg.Queue.Mode)
	}
}

func TestGetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	val, err := GetValue(path, "session.main_key")
	if err != nil {
		t.Fatal(err)
	}
	if val != "main" {
		t.Errorf("session.main_key = %v", val)
	}

	if _, err := GetValue(path, "nope.nothing"); err == nil {
		t.Error("unknown key should error")
	}
}

func TestListValuesMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Hooks.Token = "hunter22"

	values, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if values["hooks.token"] != "***er22" {
		t.Errorf("hooks.token = %v", values["hooks.token"])
	}
}
