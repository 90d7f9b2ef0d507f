package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v2"
)

func TestSaveAndLoadBaselineRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.yml")

	type ustRecord struct {
		UstAddress uint64 `yaml:"ust-address"`
		TotalSize  uint64 `yaml:"total-size"`
	}
	want := []ustRecord{{UstAddress: 0x1000, TotalSize: 4096}}

	if err := SaveBaseline(path, want); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	var got []ustRecord
	if err := LoadBaseline(path, &got); err != nil {
		t.Fatalf("LoadBaseline: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestLoadBaselineMissingFile(t *testing.T) {
	if err := LoadBaseline(filepath.Join(t.TempDir(), "missing.yml"), &struct{}{}); err == nil {
		t.Fatalf("expected an error for a missing baseline file")
	}
}

func TestGetConfigFilePathJoinsHomeDir(t *testing.T) {
	p, err := GetConfigFilePath(configFile)
	if err != nil {
		t.Fatalf("GetConfigFilePath: %v", err)
	}
	if filepath.Base(p) != configFile {
		t.Fatalf("expected path to end in %q, got %q", configFile, p)
	}
}

func TestDefaultConfigIsValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if err := writeDefaultConfig(f); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("default config is not valid YAML: %v", err)
	}
}
