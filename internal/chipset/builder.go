package chipset

import (
	"fmt"

	"github.com/tinyrange/irqc/internal/hv"
)

type mmioBinding struct {
	device  string
	region  hv.MMIORegion
	handler MmioHandler
}

type inputKey struct {
	device string
	group  string
}

// ChipsetBuilder registers devices and their intercepts before creating a Chipset.
type ChipsetBuilder struct {
	devices map[string]ChipsetDevice
	order   []string
	mmio    []mmioBinding
	inputs  map[inputKey]InputGroup
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{
		devices: make(map[string]ChipsetDevice),
		inputs:  make(map[inputKey]InputGroup),
	}
}

// RegisterDevice adds a chipset device and wires up its intercepts.
func (b *ChipsetBuilder) RegisterDevice(name string, dev ChipsetDevice) error {
	if b == nil {
		return fmt.Errorf("chipset builder is nil")
	}
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q: %w", name, hv.ErrDeviceExists)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("device %q provided MMIO regions with nil handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.withMmioRegion(name, region.Address, region.Size, intercept.Handler); err != nil {
				return fmt.Errorf("device %q: %w", name, err)
			}
		}
	}

	for _, group := range dev.SupportsInputs() {
		if err := b.WithInputGroup(name, group); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
	}

	b.devices[name] = dev
	b.order = append(b.order, name)
	return nil
}

// WithMmioRegion registers a memory-mapped region handler that belongs to no
// named device.
func (b *ChipsetBuilder) WithMmioRegion(base, size uint64, handler MmioHandler) error {
	return b.withMmioRegion("", base, size, handler)
}

func (b *ChipsetBuilder) withMmioRegion(device string, base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x with size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		if regionsOverlap(base, size, existing.region.Address, existing.region.Size) {
			return fmt.Errorf(
				"MMIO region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				base, base+size-1, existing.region.Address, existing.region.Address+existing.region.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		device: device,
		region: hv.MMIORegion{
			Address: base,
			Size:    size,
		},
		handler: handler,
	})
	return nil
}

// WithInputGroup registers a named input group for a device.
func (b *ChipsetBuilder) WithInputGroup(device string, group InputGroup) error {
	if group.Name == "" {
		return fmt.Errorf("input group name is empty")
	}
	if group.Handler == nil {
		return fmt.Errorf("input group %q has nil handler", group.Name)
	}
	if group.Width <= 0 {
		return fmt.Errorf("input group %q has width %d", group.Name, group.Width)
	}
	key := inputKey{device: device, group: group.Name}
	if _, exists := b.inputs[key]; exists {
		return fmt.Errorf("input group %q already registered", group.Name)
	}
	b.inputs[key] = group
	return nil
}

// Build finalizes the chipset layout and returns the constructed Chipset.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	if b == nil {
		return nil, fmt.Errorf("chipset builder is nil")
	}

	devices := make(map[string]ChipsetDevice, len(b.devices))
	for name, dev := range b.devices {
		devices[name] = dev
	}

	order := make([]string, len(b.order))
	copy(order, b.order)

	mmio := make([]mmioBinding, len(b.mmio))
	copy(mmio, b.mmio)

	inputs := make(map[inputKey]InputGroup, len(b.inputs))
	for key, group := range b.inputs {
		inputs[key] = group
	}

	return &Chipset{
		devices: devices,
		order:   order,
		mmio:    mmio,
		inputs:  inputs,
	}, nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA := baseA + sizeA
	endB := baseB + sizeB
	return baseA < endB && baseB < endA
}

// Chipset represents the built dispatch tables for chipset devices.
// The tables are immutable after Build.
type Chipset struct {
	devices map[string]ChipsetDevice
	order   []string
	mmio    []mmioBinding
	inputs  map[inputKey]InputGroup
}
