package irqc

import "strings"

const (
	// TypeName is the device type the controller registers under.
	TypeName = "halucinator-irq"

	// InputGroupName names the controller's level-triggered input group.
	InputGroupName = "IRQ"

	// DefaultNumIRQs is the line count used when none is configured.
	DefaultNumIRQs = 64

	// BaseOffset is the register offset of line 0. Offset 0 is the status word.
	BaseOffset = 4

	maxAccessSize = 8
)

// Status is the controller's global status word.
type Status uint32

const (
	// GlobalEnabled gates every line from reaching the output.
	GlobalEnabled Status = 1 << 0
)

// Has reports whether every bit in mask is set.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// LineFlag is the per-line register byte.
type LineFlag uint8

const (
	// LineActive is set while the line is asserted.
	LineActive LineFlag = 1 << 0
	// LineEnabled allows the line to contribute to the output.
	LineEnabled LineFlag = 1 << 1
)

// Has reports whether every bit in mask is set.
func (f LineFlag) Has(mask LineFlag) bool {
	return f&mask == mask
}

// Pending reports whether the line is both active and enabled.
func (f LineFlag) Pending() bool {
	return f.Has(LineActive | LineEnabled)
}

func (f LineFlag) String() string {
	var parts []string
	if f.Has(LineActive) {
		parts = append(parts, "active")
	}
	if f.Has(LineEnabled) {
		parts = append(parts, "enabled")
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "|")
}
