package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestWatcher(t *testing.T, reload func() (*Config, error)) (*Watcher, string, *observer.ObservedLogs) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	core, logs := observer.New(zap.InfoLevel)
	w, err := NewWatcher(path, &Config{LogLevel: "info"}, reload, zap.New(core))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 10 * time.Millisecond
	t.Cleanup(w.Stop)
	return w, path, logs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	var reloads atomic.Int32
	w, path, _ := newTestWatcher(t, func() (*Config, error) {
		reloads.Add(1)
		return &Config{LogLevel: "debug"}, nil
	})

	var got atomic.Value
	w.OnChange(func(c *Config) { got.Store(c.LogLevel) })
	w.Start()

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	waitFor(t, func() bool { return got.Load() == "debug" })
	if w.Current().LogLevel != "debug" {
		t.Errorf("Current().LogLevel = %q, want debug", w.Current().LogLevel)
	}
	if reloads.Load() < 1 {
		t.Errorf("reload called %d times, want at least 1", reloads.Load())
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	var reloads atomic.Int32
	w, path, _ := newTestWatcher(t, func() (*Config, error) {
		reloads.Add(1)
		return &Config{}, nil
	})
	w.Start()

	other := filepath.Join(filepath.Dir(path), "secrets.yaml")
	if err := os.WriteFile(other, []byte("weather_api_key: x\n"), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("reload called %d times for unrelated file, want 0", n)
	}
}

func TestWatcher_ReloadErrorKeepsCurrent(t *testing.T) {
	w, path, logs := newTestWatcher(t, func() (*Config, error) {
		return nil, errors.New("parse config file: boom")
	})
	var called atomic.Bool
	w.OnChange(func(*Config) { called.Store(true) })
	w.Start()

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	waitFor(t, func() bool { return logs.FilterMessage("config reload failed, keeping current").Len() > 0 })
	if called.Load() {
		t.Error("OnChange called after failed reload")
	}
	if w.Current().LogLevel != "info" {
		t.Errorf("Current().LogLevel = %q, want unchanged info", w.Current().LogLevel)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, _, _ := newTestWatcher(t, func() (*Config, error) { return &Config{}, nil })
	w.Start()
	w.Stop()
	w.Stop()
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "dev.yaml"), nil, nil, zap.NewNop())
	if err == nil {
		t.Fatal("NewWatcher() expected error for missing directory, got nil")
	}
}
