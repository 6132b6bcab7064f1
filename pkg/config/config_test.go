package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(xdgConfigHome, dir)

	c := LoadConfig()
	if !reflect.DeepEqual(c.Targets, DefaultTargets) {
		t.Fatalf("expected default targets %v; got %v", DefaultTargets, c.Targets)
	}
	if c.HookTable != "" || c.BufferSize != 0 {
		t.Fatalf("unexpected config %#v", c)
	}
	if _, err := os.Stat(filepath.Join(dir, configDirXdg, configFile)); err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
}

func TestSaveConfig(t *testing.T) {
	t.Setenv(xdgConfigHome, t.TempDir())
	LoadConfig()

	c := &Config{Targets: []string{"game.exe"}, HookTable: "hooks.yml", BufferSize: 4096, LogOutput: "hooks"}
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}
	got := LoadConfig()
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("expected %#v; got %#v", c, got)
	}
}

func TestParseConfig(t *testing.T) {
	c, err := parseConfig([]byte("targets: []\nbuffer-size: 16\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Targets, DefaultTargets) || c.BufferSize != 16 {
		t.Fatalf("unexpected config %#v", c)
	}
	if _, err := parseConfig([]byte("buffer-size: -1\n")); err == nil {
		t.Fatal("expected error for negative buffer size")
	}
	if _, err := parseConfig([]byte("targets: {")); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
