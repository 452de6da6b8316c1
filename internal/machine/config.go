// Package machine builds a configurable emulated machine around one or more
// interrupt controllers and runs scripted scenarios against it.
package machine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the newest configuration schema this package writes.
const CurrentVersion = "v1.0.0"

const (
	maxNumIRQs = 1 << 16
	maxRAMSize = 256 << 20
)

var (
	ErrUnsupportedVersion = errors.New("unsupported config version")
	ErrInvalidConfig      = errors.New("invalid config")
)

// Config describes a machine.
type Config struct {
	Version     string             `yaml:"version"`
	RAM         RAMConfig          `yaml:"ram"`
	Controllers []ControllerConfig `yaml:"controllers"`
}

// RAMConfig is the guest RAM window. MMIO windows are allocated above it.
type RAMConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// ControllerConfig configures one interrupt controller.
type ControllerConfig struct {
	Name string `yaml:"name"`
	// Base places the register window; when nil it is allocated above RAM.
	Base *uint64 `yaml:"base,omitempty"`
	// NumIRQs is the line count; zero selects the controller default.
	NumIRQs int `yaml:"num_irqs,omitempty"`
	// CPULine is the CPU interrupt input the output drives; when nil the
	// lowest unused input is chosen.
	CPULine *uint8 `yaml:"cpu_line,omitempty"`
}

// LoadConfig reads and validates a machine file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machine: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a machine description.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("machine: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the version and checks the controller list.
func (c *Config) Validate() error {
	version := c.Version
	if version == "" {
		version = CurrentVersion
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return fmt.Errorf("machine: version %q: %w", c.Version, ErrUnsupportedVersion)
	}
	if semver.Major(version) != semver.Major(CurrentVersion) {
		return fmt.Errorf("machine: version %s (want %s.x.x): %w", version, semver.Major(CurrentVersion), ErrUnsupportedVersion)
	}
	c.Version = version

	if c.RAM.Size > maxRAMSize {
		return fmt.Errorf("machine: ram size 0x%x exceeds 0x%x: %w", c.RAM.Size, uint64(maxRAMSize), ErrInvalidConfig)
	}
	if c.RAM.Base+c.RAM.Size < c.RAM.Base {
		return fmt.Errorf("machine: ram [0x%x, +0x%x) overflows: %w", c.RAM.Base, c.RAM.Size, ErrInvalidConfig)
	}

	if len(c.Controllers) == 0 {
		return fmt.Errorf("machine: no controllers: %w", ErrInvalidConfig)
	}

	names := make(map[string]bool, len(c.Controllers))
	cpuLines := make(map[uint8]string, len(c.Controllers))
	for i, ctrl := range c.Controllers {
		if ctrl.Name == "" {
			return fmt.Errorf("machine: controller %d has no name: %w", i, ErrInvalidConfig)
		}
		if names[ctrl.Name] {
			return fmt.Errorf("machine: controller %q defined twice: %w", ctrl.Name, ErrInvalidConfig)
		}
		names[ctrl.Name] = true

		if ctrl.NumIRQs < 0 || ctrl.NumIRQs > maxNumIRQs {
			return fmt.Errorf("machine: controller %q: num_irqs %d outside [0, %d]: %w", ctrl.Name, ctrl.NumIRQs, maxNumIRQs, ErrInvalidConfig)
		}
		if ctrl.CPULine != nil {
			if other, ok := cpuLines[*ctrl.CPULine]; ok {
				return fmt.Errorf("machine: controllers %q and %q share cpu_line %d: %w", other, ctrl.Name, *ctrl.CPULine, ErrInvalidConfig)
			}
			cpuLines[*ctrl.CPULine] = ctrl.Name
		}
	}

	return nil
}
