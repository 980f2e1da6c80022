package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestResolveDefaultsOnly(t *testing.T) {
	cfg, err := Resolve("", true, true, FlagOverrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestResolveConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rts2drv.yaml")
	if err := os.WriteFile(path, []byte("device: ccd1\nport: 5555\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Resolve(path, true, true, FlagOverrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Device != "ccd1" || cfg.Port != 5555 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Server != "localhost" {
		t.Errorf("expected untouched default Server, got %q", cfg.Server)
	}
}

func TestResolveEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rts2drv.yaml")
	if err := os.WriteFile(path, []byte("server_port: 617\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RTS2_SERVER_PORT", "7777")

	cfg, err := Resolve(path, true, true, FlagOverrides{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.ServerPort != 7777 {
		t.Errorf("ServerPort = %d, want 7777", cfg.ServerPort)
	}
}

func TestResolveFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rts2drv.yaml")
	if err := os.WriteFile(path, []byte("device: ccd1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RTS2_DEVICE_NAME", "ccd2")

	flagDevice := "ccd3"
	cfg, err := Resolve(path, true, true, FlagOverrides{Device: &flagDevice})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Device != "ccd3" {
		t.Errorf("Device = %q, want ccd3", cfg.Device)
	}
}

func TestResolveMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Resolve("/nonexistent/path/rts2drv.yaml", true, true, FlagOverrides{})
	if err != nil {
		t.Errorf("Resolve with missing --config file: %v", err)
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	cfg := Defaults()
	cfg.Device = "ccd1"
	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty YAML output")
	}
	var back Config
	if err := yaml.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != cfg {
		t.Errorf("round trip = %+v, want %+v", back, cfg)
	}
}
