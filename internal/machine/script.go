package machine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultAccessSize = 4

var ErrExpectation = errors.New("expectation failed")

// Scenario is a scripted sequence of guest and host actions.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Write     *AccessStep   `yaml:"write,omitempty"`
	Read      *AccessStep   `yaml:"read,omitempty"`
	Line      *LineStep     `yaml:"line,omitempty"`
	Property  *PropertyStep `yaml:"property,omitempty"`
	ExpectIRQ *ExpectStep   `yaml:"expect_irq,omitempty"`
	Reset     bool          `yaml:"reset,omitempty"`
}

// AccessStep is a guest MMIO access. The target is either an absolute Addr
// or an Offset inside Device's register window.
type AccessStep struct {
	Addr   uint64  `yaml:"addr,omitempty"`
	Device string  `yaml:"device,omitempty"`
	Offset uint64  `yaml:"offset,omitempty"`
	Size   int     `yaml:"size,omitempty"`
	Value  uint64  `yaml:"value,omitempty"`
	Expect *uint64 `yaml:"expect,omitempty"`
}

// LineStep drives a controller input line.
type LineStep struct {
	Device string `yaml:"device"`
	Line   int    `yaml:"line"`
	Level  bool   `yaml:"level"`
}

// PropertyStep writes a controller debug property.
type PropertyStep struct {
	Device string `yaml:"device"`
	Name   string `yaml:"name"`
	Value  int64  `yaml:"value"`
}

// ExpectStep checks the CPU input driven by Device.
type ExpectStep struct {
	Device string `yaml:"device"`
	Level  bool   `yaml:"level"`
}

// StepResult reports a completed step.
type StepResult struct {
	Index int
	Step  Step
	// Value is the value read by a read step.
	Value uint64
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machine: read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a scenario and checks that every step names exactly
// one action.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("machine: decode scenario: %w", err)
	}
	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			return nil, fmt.Errorf("machine: scenario step %d has %d actions, want 1", i, n)
		}
	}
	return &sc, nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Write != nil, s.Read != nil, s.Line != nil, s.Property != nil, s.ExpectIRQ != nil, s.Reset} {
		if set {
			n++
		}
	}
	return n
}

func (s Step) String() string {
	switch {
	case s.Write != nil:
		return fmt.Sprintf("write %s = 0x%x", s.Write.target(), s.Write.Value)
	case s.Read != nil:
		if s.Read.Expect != nil {
			return fmt.Sprintf("read %s == 0x%x", s.Read.target(), *s.Read.Expect)
		}
		return fmt.Sprintf("read %s", s.Read.target())
	case s.Line != nil:
		return fmt.Sprintf("line %s[%d] = %t", s.Line.Device, s.Line.Line, s.Line.Level)
	case s.Property != nil:
		return fmt.Sprintf("property %s.%s = %d", s.Property.Device, s.Property.Name, s.Property.Value)
	case s.ExpectIRQ != nil:
		return fmt.Sprintf("expect_irq %s == %t", s.ExpectIRQ.Device, s.ExpectIRQ.Level)
	case s.Reset:
		return "reset"
	}
	return "empty"
}

func (a *AccessStep) target() string {
	if a.Device != "" {
		return fmt.Sprintf("%s+0x%x/%d", a.Device, a.Offset, a.size())
	}
	return fmt.Sprintf("0x%x/%d", a.Addr, a.size())
}

func (a *AccessStep) size() int {
	if a.Size == 0 {
		return defaultAccessSize
	}
	return a.Size
}

func (m *Machine) resolve(a *AccessStep) (uint64, error) {
	if a.Device == "" {
		return a.Addr, nil
	}
	return m.WindowAddress(a.Device, a.Offset)
}

// Run executes the scenario in order and stops at the first failing step.
// onStep, if non-nil, is called after each step completes.
func (m *Machine) Run(ctx context.Context, sc *Scenario, onStep func(StepResult)) error {
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		value, err := m.runStep(step)
		if err != nil {
			return fmt.Errorf("machine: step %d (%s): %w", i, step, err)
		}
		m.log.Debug("machine: step", "index", i, "step", step.String())

		if onStep != nil {
			onStep(StepResult{Index: i, Step: step, Value: value})
		}
	}
	return nil
}

func (m *Machine) runStep(step Step) (uint64, error) {
	switch {
	case step.Write != nil:
		addr, err := m.resolve(step.Write)
		if err != nil {
			return 0, err
		}
		return 0, m.Write(addr, step.Write.size(), step.Write.Value)

	case step.Read != nil:
		addr, err := m.resolve(step.Read)
		if err != nil {
			return 0, err
		}
		value, err := m.Read(addr, step.Read.size())
		if err != nil {
			return 0, err
		}
		if step.Read.Expect != nil && value != *step.Read.Expect {
			return value, fmt.Errorf("got 0x%x: %w", value, ErrExpectation)
		}
		return value, nil

	case step.Line != nil:
		return 0, m.SetInput(step.Line.Device, step.Line.Line, step.Line.Level)

	case step.Property != nil:
		return 0, m.SetProperty(step.Property.Device, step.Property.Name, step.Property.Value)

	case step.ExpectIRQ != nil:
		level, err := m.IRQ(step.ExpectIRQ.Device)
		if err != nil {
			return 0, err
		}
		if level != step.ExpectIRQ.Level {
			return 0, fmt.Errorf("cpu line is %t: %w", level, ErrExpectation)
		}
		return 0, nil

	case step.Reset:
		return 0, m.Reset()
	}
	return 0, fmt.Errorf("empty step")
}
