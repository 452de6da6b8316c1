package irqc

import (
	"fmt"

	"github.com/tinyrange/irqc/internal/chipset"
	"github.com/tinyrange/irqc/internal/hv"
)

// WindowSize returns the size of the register window for numIRQs lines.
func WindowSize(numIRQs int) uint64 {
	return uint64(numIRQs) + BaseOffset
}

// SetBase moves the register window to base. It must be called before the
// controller is registered with a chipset.
func (c *Controller) SetBase(base uint64) {
	c.base = base
}

// Base returns the address of the status word.
func (c *Controller) Base() uint64 {
	return c.base
}

// Init implements hv.Device. The register window must not cover guest RAM.
func (c *Controller) Init(vm hv.VirtualMachine) error {
	if vm == nil || vm.MemorySize() == 0 {
		return nil
	}
	ramStart, ramEnd := vm.MemoryBase(), vm.MemoryBase()+vm.MemorySize()
	window := c.MMIORegions()[0]
	if window.Address < ramEnd && ramStart < window.Address+window.Size {
		return fmt.Errorf("irqc: MMIO window %s overlaps RAM [0x%x-0x%x)", window, ramStart, ramEnd)
	}
	return nil
}

// Start implements chipset.ChangeDeviceState.
func (c *Controller) Start() error {
	c.update()
	return nil
}

// Stop implements chipset.ChangeDeviceState.
func (c *Controller) Stop() error {
	return nil
}

// MMIORegions implements hv.MemoryMappedIODevice.
func (c *Controller) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{
		{Address: c.base, Size: WindowSize(c.numIRQs)},
	}
}

// SupportsMmio implements chipset.ChipsetDevice.
func (c *Controller) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: c.MMIORegions(),
		Handler: c,
	}
}

// SupportsInputs implements chipset.ChipsetDevice.
func (c *Controller) SupportsInputs() []chipset.InputGroup {
	return []chipset.InputGroup{
		{
			Name:    InputGroupName,
			Width:   c.numIRQs,
			Handler: chipset.InputHandlerFunc(c.SetLine),
		},
	}
}

// ReadMMIO implements hv.MemoryMappedIODevice. The access size is len(data)
// and the value is returned little-endian. Accesses inside the window never
// fail; undecodable ones read as zero.
func (c *Controller) ReadMMIO(addr uint64, data []byte) error {
	offset, err := c.windowOffset(addr, len(data))
	if err != nil {
		return err
	}
	value, _ := c.Read(offset, len(data))
	for i := range data {
		data[i] = byte(value >> (8 * uint(i)))
	}
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (c *Controller) WriteMMIO(addr uint64, data []byte) error {
	offset, err := c.windowOffset(addr, len(data))
	if err != nil {
		return err
	}
	var value uint64
	for i := 0; i < len(data) && i < maxAccessSize; i++ {
		value |= uint64(data[i]) << (8 * uint(i))
	}
	c.Write(offset, len(data), value)
	return nil
}

func (c *Controller) windowOffset(addr uint64, size int) (uint64, error) {
	region := hv.MMIORegion{Address: c.base, Size: WindowSize(c.numIRQs)}
	if !region.Contains(addr, uint64(size)) {
		return 0, fmt.Errorf("irqc: access 0x%x size %d outside MMIO window %s", addr, size, region)
	}
	return addr - c.base, nil
}

var (
	_ hv.MemoryMappedIODevice = (*Controller)(nil)
	_ chipset.ChipsetDevice   = (*Controller)(nil)
)
