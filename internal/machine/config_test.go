package machine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
)

const testConfig = `
version: v1.0.0
ram: {base: 0x20000000, size: 0x40000}
controllers:
  - name: irqc
    num_irqs: 64
  - name: aux
    base: 0x40000000
    num_irqs: 8
    cpu_line: 0
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	base := uint64(0x40000000)
	line := uint8(0)
	want := &Config{
		Version: "v1.0.0",
		RAM:     RAMConfig{Base: 0x20000000, Size: 0x40000},
		Controllers: []ControllerConfig{
			{Name: "irqc", NumIRQs: 64},
			{Name: "aux", Base: &base, NumIRQs: 8, CPULine: &line},
		},
	}
	if diff := deep.Equal(cfg, want); diff != nil {
		t.Fatalf("config differs: %v", diff)
	}
}

func TestConfigVersion(t *testing.T) {
	tests := []struct {
		version string
		want    string
		err     error
	}{
		{version: "", want: CurrentVersion},
		{version: "1.2.0", want: "v1.2.0"},
		{version: "v1.9.3", want: "v1.9.3"},
		{version: "v2.0.0", err: ErrUnsupportedVersion},
		{version: "banana", err: ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		cfg := Config{Version: tt.version, Controllers: []ControllerConfig{{Name: "irqc"}}}
		err := cfg.Validate()
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("version %q: got %v, want %v", tt.version, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("version %q: %v", tt.version, err)
			continue
		}
		if cfg.Version != tt.want {
			t.Errorf("version %q normalized to %q, want %q", tt.version, cfg.Version, tt.want)
		}
	}
}

func TestConfigRejectsInvalidControllers(t *testing.T) {
	line := uint8(3)
	tests := map[string]Config{
		"none":        {},
		"unnamed":     {Controllers: []ControllerConfig{{}}},
		"duplicate":   {Controllers: []ControllerConfig{{Name: "a"}, {Name: "a"}}},
		"negative":    {Controllers: []ControllerConfig{{Name: "a", NumIRQs: -1}}},
		"huge":        {Controllers: []ControllerConfig{{Name: "a", NumIRQs: maxNumIRQs + 1}}},
		"shared line": {Controllers: []ControllerConfig{{Name: "a", CPULine: &line}, {Name: "b", CPULine: &line}}},
		"ram size":    {RAM: RAMConfig{Size: maxRAMSize + 1}, Controllers: []ControllerConfig{{Name: "a"}}},
		"ram wraps":   {RAM: RAMConfig{Base: ^uint64(0), Size: 2}, Controllers: []ControllerConfig{{Name: "a"}}},
	}
	for name, cfg := range tests {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: got %v, want ErrInvalidConfig", name, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Controllers) != 2 {
		t.Fatalf("expected 2 controllers, got %d", len(cfg.Controllers))
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := ParseConfig([]byte("controllers: [")); err == nil {
		t.Fatalf("expected decode error")
	}
}
