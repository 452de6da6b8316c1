package chipset

import (
	"errors"
	"fmt"

	"github.com/tinyrange/irqc/internal/hv"
)

var (
	ErrNoHandler      = errors.New("no handler")
	ErrLineOutOfRange = errors.New("input line out of range")
)

// Start activates all registered devices in registration order.
func (c *Chipset) Start() error {
	for _, name := range c.order {
		if err := c.devices[name].Start(); err != nil {
			return fmt.Errorf("chipset: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates all registered devices in reverse registration order.
func (c *Chipset) Stop() error {
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		if err := c.devices[name].Stop(); err != nil {
			return fmt.Errorf("chipset: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets all registered devices.
func (c *Chipset) Reset() error {
	for _, name := range c.order {
		if err := c.devices[name].Reset(); err != nil {
			return fmt.Errorf("chipset: reset device %q: %w", name, err)
		}
	}
	return nil
}

// Devices returns the registered device names in registration order.
func (c *Chipset) Devices() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Device looks up a registered device by name.
func (c *Chipset) Device(name string) (ChipsetDevice, error) {
	dev, ok := c.devices[name]
	if !ok {
		return nil, fmt.Errorf("chipset: device %q: %w", name, hv.ErrDeviceNotFound)
	}
	return dev, nil
}

// HandleMMIO dispatches an MMIO access to the registered device. The access
// must fall entirely within one region; len(data) is the access size.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	accessEnd := addr + uint64(len(data))
	if accessEnd < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	for _, binding := range c.mmio {
		if binding.region.Contains(addr, uint64(len(data))) {
			if isWrite {
				return binding.handler.WriteMMIO(addr, data)
			}
			return binding.handler.ReadMMIO(addr, data)
		}
	}

	return fmt.Errorf("chipset: MMIO address 0x%016x size %d: %w", addr, len(data), ErrNoHandler)
}

// MMIORegion returns the first region registered for the named device.
func (c *Chipset) MMIORegion(device string) (hv.MMIORegion, bool) {
	for _, binding := range c.mmio {
		if binding.device == device {
			return binding.region, true
		}
	}
	return hv.MMIORegion{}, false
}

// SetInput drives one line of a device's named input group. Lines outside
// the group's width are rejected here so devices never see them.
func (c *Chipset) SetInput(device, group string, line int, level bool) error {
	g, ok := c.inputs[inputKey{device: device, group: group}]
	if !ok {
		return fmt.Errorf("chipset: input %s.%s: %w", device, group, ErrNoHandler)
	}
	if line < 0 || line >= g.Width {
		return fmt.Errorf("chipset: input %s.%s[%d] (width %d): %w", device, group, line, g.Width, ErrLineOutOfRange)
	}
	g.Handler.SetLine(line, level)
	return nil
}
