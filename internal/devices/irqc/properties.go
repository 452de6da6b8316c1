package irqc

import (
	"errors"
	"fmt"
)

const (
	PropSetIRQ     = "set-irq"
	PropClearIRQ   = "clear-irq"
	PropEnableIRQ  = "enable-irq"
	PropDisableIRQ = "disable-irq"
	PropNumIRQs    = "num_irqs"
)

var (
	ErrUnknownProperty   = errors.New("unknown property")
	ErrReadOnlyProperty  = errors.New("property is read-only")
	ErrWriteOnlyProperty = errors.New("property is write-only")
)

// Property describes one entry of the controller's integer property surface.
type Property struct {
	Name        string
	Description string
	Readable    bool
	Writable    bool
}

var properties = []Property{
	{Name: PropNumIRQs, Description: "Number of interrupt lines, fixed at construction", Readable: true},
	{Name: PropSetIRQ, Description: "Write only property that sets the specified IRQ", Writable: true},
	{Name: PropClearIRQ, Description: "Write only property that clears the specified IRQ", Writable: true},
	{Name: PropEnableIRQ, Description: "Write only property that enables the specified IRQ", Writable: true},
	{Name: PropDisableIRQ, Description: "Write only property that disables the specified IRQ", Writable: true},
}

// Properties lists the controller's properties.
func (c *Controller) Properties() []Property {
	out := make([]Property, len(properties))
	copy(out, properties)
	return out
}

// SetProperty writes an integer property. The debug-control properties take
// a line index; an out-of-range index is silently ignored and is not an error.
func (c *Controller) SetProperty(name string, value int64) error {
	switch name {
	case PropSetIRQ:
		c.DebugSet(value)
	case PropClearIRQ:
		c.DebugClear(value)
	case PropEnableIRQ:
		c.DebugEnable(value)
	case PropDisableIRQ:
		c.DebugDisable(value)
	case PropNumIRQs:
		return fmt.Errorf("irqc: %s: %w", name, ErrReadOnlyProperty)
	default:
		return fmt.Errorf("irqc: %q: %w", name, ErrUnknownProperty)
	}
	return nil
}

// GetProperty reads an integer property.
func (c *Controller) GetProperty(name string) (int64, error) {
	switch name {
	case PropNumIRQs:
		return int64(c.numIRQs), nil
	case PropSetIRQ, PropClearIRQ, PropEnableIRQ, PropDisableIRQ:
		return 0, fmt.Errorf("irqc: %s: %w", name, ErrWriteOnlyProperty)
	}
	return 0, fmt.Errorf("irqc: %q: %w", name, ErrUnknownProperty)
}
