package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("HARMONIA_TEST_NAME", "sky")
	p := writeFile(t, "name: ${HARMONIA_TEST_NAME}\n")

	cfg := sample{Port: 8080}
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "sky" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Validates(t *testing.T) {
	p := writeFile(t, "port: 0\n")
	cfg := sample{}
	if err := Load(p, &cfg); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadOptional_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")

	cfg := sample{Port: 1}
	if err := LoadOptional(missing, &cfg); err != nil {
		t.Fatalf("missing file with valid defaults: %v", err)
	}
	if err := Load(missing, &cfg); err == nil {
		t.Error("Load should fail on a missing file")
	}
	bad := sample{}
	if err := LoadOptional(missing, &bad); err == nil {
		t.Error("defaults are still validated")
	}
}
