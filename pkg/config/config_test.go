package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	s.valid = true
	if s.Port <= 0 {
		return errors.New("port must be positive")
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

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeFile(t, "name: ${SAMPLE_NAME}\nport: 8080\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-env" {
		t.Errorf("name = %q, want from-env", s.Name)
	}
	if !s.valid {
		t.Error("Validate was not called")
	}
}

func TestLoad_ValidationError(t *testing.T) {
	p := writeFile(t, "name: x\nport: 0\n")
	var s sample
	err := Load(p, &s)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "port must be positive") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOptional_MissingFileKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 9000}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Name != "default" || s.Port != 9000 {
		t.Errorf("defaults changed: %+v", s)
	}
	if !s.valid {
		t.Error("Validate was not called")
	}
}

func TestLoadOptional_OverridesDefaults(t *testing.T) {
	p := writeFile(t, "port: 7000\n")
	s := sample{Name: "default", Port: 9000}
	if err := LoadOptional(p, &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Name != "default" || s.Port != 7000 {
		t.Errorf("config = %+v", s)
	}
}

func TestDecode_InvalidYAML(t *testing.T) {
	var s sample
	if err := Decode([]byte("port: [1, 2"), &s); err == nil {
		t.Error("expected parse error")
	}
}
