package hv

import (
	"fmt"
	"sort"
	"sync"
)

// MMIOAllocationRequest describes a region a device needs in the physical
// address space.
type MMIOAllocationRequest struct {
	Name      string
	Size      uint64
	Alignment uint64
}

// MMIOAllocation is a placed region.
type MMIOAllocation struct {
	Name string
	Base uint64
	Size uint64
}

func (a MMIOAllocation) Region() MMIORegion {
	return MMIORegion{Address: a.Base, Size: a.Size}
}

// AddressSpace manages physical address allocation for a machine.
// It tracks the RAM region and allocates MMIO regions above RAM to avoid conflicts.
type AddressSpace struct {
	mu sync.Mutex

	ramBase uint64
	ramSize uint64

	// nextMMIO is the next available address for MMIO allocation (above RAM)
	nextMMIO uint64

	// allocations holds all dynamically allocated MMIO regions
	allocations []MMIOAllocation

	// fixedRegions holds regions placed at a configured address
	fixedRegions []MMIOAllocation
}

// NewAddressSpace creates a new physical address allocator.
// MMIO allocations will start above ramBase+ramSize.
func NewAddressSpace(ramBase, ramSize uint64) *AddressSpace {
	a := &AddressSpace{
		ramBase: ramBase,
		ramSize: ramSize,
	}
	// Start MMIO allocation above RAM, aligned to 4KB
	a.nextMMIO = alignUp(ramBase+ramSize, 0x1000)
	return a
}

// Allocate allocates an MMIO region with the specified requirements.
// The region is placed above RAM and above every fixed region, aligned to the
// requested alignment. The returned size is the requested size; alignment
// only affects where the next allocation starts.
func (a *AddressSpace) Allocate(req MMIOAllocationRequest) (MMIOAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Size == 0 {
		return MMIOAllocation{}, fmt.Errorf("address_space: cannot allocate zero-size region for %s", req.Name)
	}

	alignment := req.Alignment
	if alignment == 0 {
		alignment = 0x1000 // Default to 4KB alignment
	}

	// Ensure alignment is a power of 2
	if alignment&(alignment-1) != 0 {
		return MMIOAllocation{}, fmt.Errorf("address_space: alignment 0x%x is not a power of 2 for %s", alignment, req.Name)
	}

	base := alignUp(a.nextMMIO, alignment)
	for {
		conflict, ok := a.overlapLocked(base, req.Size)
		if !ok {
			break
		}
		base = alignUp(conflict.Base+conflict.Size, alignment)
	}
	if base+req.Size < base {
		return MMIOAllocation{}, fmt.Errorf("address_space: no room for %s (0x%x bytes)", req.Name, req.Size)
	}

	alloc := MMIOAllocation{
		Name: req.Name,
		Base: base,
		Size: req.Size,
	}

	a.allocations = append(a.allocations, alloc)
	a.nextMMIO = base + alignUp(req.Size, alignment)

	return alloc, nil
}

// RegisterFixed registers a pre-determined MMIO region.
// Returns error if the region overlaps RAM or another MMIO region.
func (a *AddressSpace) RegisterFixed(name string, base, size uint64) (MMIOAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return MMIOAllocation{}, fmt.Errorf("address_space: cannot register zero-size fixed region %s", name)
	}

	regionEnd := base + size
	if regionEnd < base {
		return MMIOAllocation{}, fmt.Errorf("address_space: fixed region %s at 0x%x overflows", name, base)
	}

	ramEnd := a.ramBase + a.ramSize
	if a.ramSize != 0 && base < ramEnd && regionEnd > a.ramBase {
		return MMIOAllocation{}, fmt.Errorf("address_space: fixed region %s [0x%x-0x%x) overlaps RAM [0x%x-0x%x)",
			name, base, regionEnd, a.ramBase, ramEnd)
	}

	if existing, ok := a.overlapLocked(base, size); ok {
		return MMIOAllocation{}, fmt.Errorf("address_space: fixed region %s [0x%x-0x%x) overlaps %s [0x%x-0x%x)",
			name, base, regionEnd, existing.Name, existing.Base, existing.Base+existing.Size)
	}

	alloc := MMIOAllocation{
		Name: name,
		Base: base,
		Size: size,
	}
	a.fixedRegions = append(a.fixedRegions, alloc)

	return alloc, nil
}

func (a *AddressSpace) overlapLocked(base, size uint64) (MMIOAllocation, bool) {
	for _, list := range [][]MMIOAllocation{a.fixedRegions, a.allocations} {
		for _, existing := range list {
			if base < existing.Base+existing.Size && existing.Base < base+size {
				return existing, true
			}
		}
	}
	return MMIOAllocation{}, false
}

// Regions returns every fixed and allocated region sorted by base address.
func (a *AddressSpace) Regions() []MMIOAllocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]MMIOAllocation, 0, len(a.fixedRegions)+len(a.allocations))
	result = append(result, a.fixedRegions...)
	result = append(result, a.allocations...)
	sort.Slice(result, func(i, j int) bool { return result[i].Base < result[j].Base })
	return result
}

// RAMBase returns the RAM base address.
func (a *AddressSpace) RAMBase() uint64 {
	return a.ramBase
}

// RAMSize returns the RAM size.
func (a *AddressSpace) RAMSize() uint64 {
	return a.ramSize
}

// RAMEnd returns the first address after RAM.
func (a *AddressSpace) RAMEnd() uint64 {
	return a.ramBase + a.ramSize
}

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
