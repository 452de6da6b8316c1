// Package irqc implements a virtual interrupt controller for re-hosted
// firmware. It ORs a fixed number of level-triggered request lines, each
// gated by its own enable bit, into a single output line that is further
// gated by a global enable bit in the status word.
//
// Register layout (byte addressed):
//
//	0x00        status word, bit 0 = global enable
//	0x04 + n    line n: bit 0 = active, bit 1 = enabled
//
// A Controller is not safe for concurrent use; the host serializes calls.
package irqc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqc/internal/chipset"
)

// Controller is the interrupt controller state.
type Controller struct {
	numIRQs int
	status  Status
	lines   []LineFlag

	base   uint64
	output chipset.LineInterrupt
	log    *slog.Logger
}

// New builds a controller with numIRQs lines, all cleared, and the output
// detached. numIRQs <= 0 selects DefaultNumIRQs.
func New(numIRQs int) *Controller {
	if numIRQs <= 0 {
		numIRQs = DefaultNumIRQs
	}
	return &Controller{
		numIRQs: numIRQs,
		lines:   make([]LineFlag, numIRQs),
		output:  chipset.LineInterruptDetached(),
		log:     discardLogger,
	}
}

var discardLogger = slog.New(slog.DiscardHandler)

func (c *Controller) logger() *slog.Logger {
	if c.log == nil {
		return discardLogger
	}
	return c.log
}

// SetOutput sets the line the aggregate is driven on and drives the current
// level onto it.
func (c *Controller) SetOutput(line chipset.LineInterrupt) {
	if line == nil {
		c.output = chipset.LineInterruptDetached()
	} else {
		c.output = line
	}
	c.update()
}

// SetLogger installs the logger used for access tracing and invalid-access
// diagnostics. A nil logger discards everything.
func (c *Controller) SetLogger(log *slog.Logger) {
	if log == nil {
		log = discardLogger
	}
	c.log = log
}

// NumIRQs returns the number of lines.
func (c *Controller) NumIRQs() int {
	return c.numIRQs
}

// Status returns the status word.
func (c *Controller) Status() Status {
	return c.status
}

// Line returns the register byte for line n, or 0 if n is out of range.
func (c *Controller) Line(n int) LineFlag {
	if n < 0 || n >= len(c.lines) {
		return 0
	}
	return c.lines[n]
}

// Raised reports the aggregate output level.
func (c *Controller) Raised() bool {
	if !c.status.Has(GlobalEnabled) {
		return false
	}
	for _, line := range c.lines {
		if line.Pending() {
			return true
		}
	}
	return false
}

// ActiveLines returns the lines that are both active and enabled, whether or
// not the global enable is set.
func (c *Controller) ActiveLines() []int {
	var out []int
	for i, line := range c.lines {
		if line.Pending() {
			out = append(out, i)
		}
	}
	return out
}

// update recomputes the aggregate from the register file and drives the
// output. It runs after every mutation and always rescans every line.
func (c *Controller) update() {
	level := c.Raised()
	if c.logger().Enabled(context.Background(), slog.LevelDebug) {
		c.logger().Debug("irqc: update",
			"global", c.status.Has(GlobalEnabled),
			"active", c.ActiveLines(),
			"level", level)
	}
	if c.output != nil {
		c.output.SetLevel(level)
	}
}

// Read decodes a register read of size bytes at offset. Invalid accesses
// return (0, false) and are logged; they are never errors.
func (c *Controller) Read(offset uint64, size int) (uint64, bool) {
	switch {
	case offset == 0:
		value := uint64(uint32(c.status))
		c.logger().Debug("irqc: read status", "size", size, "value", value)
		return value, true
	case c.lineOffset(offset):
		idx := int(offset - BaseOffset)
		if size < 1 || size > maxAccessSize || idx+size > c.numIRQs {
			break
		}
		var value uint64
		for i := 0; i < size; i++ {
			value |= uint64(c.lines[idx+i]) << (8 * i)
		}
		c.logger().Debug("irqc: read line", "line", idx, "size", size, "value", value)
		return value, true
	}

	c.logger().Warn("irqc: invalid read", "offset", offset, "size", size)
	return 0, false
}

// Write decodes a register write. A status write replaces the whole word
// with the low 32 bits of value. A line write stores only the low byte of
// value into the addressed line whatever the access size; neighbouring lines
// are never touched. Invalid accesses are dropped, logged and return false.
func (c *Controller) Write(offset uint64, size int, value uint64) bool {
	switch {
	case offset == 0:
		c.status = Status(uint32(value))
		c.logger().Debug("irqc: write status", "size", size, "value", uint32(value))
		c.update()
		return true
	case c.lineOffset(offset):
		idx := int(offset - BaseOffset)
		c.lines[idx] = LineFlag(value & 0xff)
		c.logger().Debug("irqc: write line", "line", idx, "size", size, "value", uint8(value))
		c.update()
		return true
	}

	c.logger().Warn("irqc: invalid write", "offset", offset, "size", size, "value", value)
	return false
}

func (c *Controller) lineOffset(offset uint64) bool {
	return offset >= BaseOffset && offset < BaseOffset+uint64(c.numIRQs)
}

// SetLine sets or clears the active bit of line from the input group.
// The host guarantees line is in range; anything else is a wiring bug and
// panics.
func (c *Controller) SetLine(line int, level bool) {
	if c.lines == nil || line < 0 || line >= c.numIRQs {
		panic(fmt.Sprintf("irqc: input line %d out of range [0, %d)", line, c.numIRQs))
	}
	if level {
		c.lines[line] |= LineActive
	} else {
		c.lines[line] &^= LineActive
	}
	c.logger().Debug("irqc: input", "line", line, "level", level)
	c.update()
}

// DebugSet sets the active bit of line. It reports false, changing nothing,
// if line is out of range.
func (c *Controller) DebugSet(line int64) bool {
	return c.debugUpdate("set", line, LineActive, 0)
}

// DebugClear clears the active bit of line.
func (c *Controller) DebugClear(line int64) bool {
	return c.debugUpdate("clear", line, 0, LineActive)
}

// DebugEnable sets the enabled bit of line.
func (c *Controller) DebugEnable(line int64) bool {
	return c.debugUpdate("enable", line, LineEnabled, 0)
}

// DebugDisable clears the enabled bit of line.
func (c *Controller) DebugDisable(line int64) bool {
	return c.debugUpdate("disable", line, 0, LineEnabled)
}

func (c *Controller) debugUpdate(op string, line int64, set, unset LineFlag) bool {
	if c.lines == nil || line < 0 || line >= int64(len(c.lines)) {
		return false
	}
	c.lines[line] = (c.lines[line] | set) &^ unset
	c.logger().Debug("irqc: debug "+op, "line", line)
	c.update()
	return true
}

// Reset clears the status word and every line and drives the output low.
func (c *Controller) Reset() error {
	c.status = 0
	for i := range c.lines {
		c.lines[i] = 0
	}
	c.update()
	return nil
}

func (c *Controller) String() string {
	return fmt.Sprintf("IRQC(lines=%d, status=0x%08x, active=%v, raised=%v)",
		c.numIRQs, uint32(c.status), c.ActiveLines(), c.Raised())
}
