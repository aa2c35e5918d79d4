package mediasessions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// chdir is t.Chdir for toolchains before Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()

	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

func newTestConfig(t *testing.T) *CanonicalConfig {
	t.Helper()

	cc, err := NewConfig(zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	return cc
}

func writeTestConfig(t *testing.T, contents string) {
	t.Helper()

	path := filepath.Join(".", UserConfigFilepath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestConfigDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cc := newTestConfig(t)
	if err := cc.Load(); err != nil {
		t.Fatalf("missing config file should not be an error: %v", err)
	}

	if cc.Engine.DebounceWindow != DefaultDebounceWindow {
		t.Errorf("got debounce %v, want %v", cc.Engine.DebounceWindow, DefaultDebounceWindow)
	}
	if cc.Engine.OperationTimeout != DefaultOperationTimeout {
		t.Errorf("got timeout %v, want %v", cc.Engine.OperationTimeout, DefaultOperationTimeout)
	}
	if !cc.Engine.EnableArtwork {
		t.Error("artwork should default to enabled")
	}
}

func TestConfigLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	writeTestConfig(t, "debounce_window_ms: 250\noperation_timeout_ms: 1500\nenable_artwork: false\n")

	cc := newTestConfig(t)
	if err := cc.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cc.Engine.DebounceWindow != 250*time.Millisecond {
		t.Errorf("got debounce %v, want 250ms", cc.Engine.DebounceWindow)
	}
	if cc.Engine.OperationTimeout != 1500*time.Millisecond {
		t.Errorf("got timeout %v, want 1.5s", cc.Engine.OperationTimeout)
	}
	if cc.Engine.EnableArtwork {
		t.Error("artwork should be disabled by the file")
	}
}

func TestConfigRejectsNegativeDebounce(t *testing.T) {
	chdir(t, t.TempDir())
	writeTestConfig(t, "debounce_window_ms: -5\n")

	cc := newTestConfig(t)
	if err := cc.Load(); err == nil {
		t.Fatal("negative debounce window should fail to load")
	}
}

func TestConfigRejectsNonPositiveTimeout(t *testing.T) {
	chdir(t, t.TempDir())
	writeTestConfig(t, "operation_timeout_ms: 0\n")

	cc := newTestConfig(t)
	if err := cc.Load(); err == nil {
		t.Fatal("zero operation timeout should fail to load")
	}
}

func TestConfigIgnoresUnknownKeys(t *testing.T) {
	chdir(t, t.TempDir())
	writeTestConfig(t, "debounce_window_ms: 100\nsome_future_key: true\n")

	cc := newTestConfig(t)
	if err := cc.Load(); err != nil {
		t.Fatalf("unknown keys should be ignored, got: %v", err)
	}
	if cc.Engine.DebounceWindow != 100*time.Millisecond {
		t.Errorf("got debounce %v, want 100ms", cc.Engine.DebounceWindow)
	}
}
