package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/irqc/internal/chipset"
	"github.com/tinyrange/irqc/internal/devices/irqc"
	"github.com/tinyrange/irqc/internal/hv"
)

const windowAlignment = 0x1000

var (
	ErrAccessSize     = errors.New("access size must be between 1 and 8 bytes")
	ErrConfigMismatch = errors.New("snapshot was taken on a different machine layout")
)

// Machine is a guest RAM window plus a set of interrupt controllers, each
// driving one CPU interrupt input. It is not safe for concurrent use.
type Machine struct {
	cfg Config
	log *slog.Logger

	space   *hv.AddressSpace
	ram     []byte
	chipset *chipset.Chipset
	cpu     *chipset.LineSet

	order       []string
	controllers map[string]*irqc.Controller
	cpuLines    map[string]uint8

	hash hv.ConfigHash
}

// New builds and starts a machine from cfg. A nil logger discards output.
func New(cfg *Config, log *slog.Logger) (*Machine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("machine: nil config: %w", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	m := &Machine{
		cfg:         *cfg,
		log:         log,
		space:       hv.NewAddressSpace(cfg.RAM.Base, cfg.RAM.Size),
		controllers: make(map[string]*irqc.Controller, len(cfg.Controllers)),
		cpuLines:    make(map[string]uint8, len(cfg.Controllers)),
	}
	m.cpu = chipset.NewLineSet(chipset.InterruptSinkFunc(m.cpuInterrupt))

	builder := chipset.NewBuilder()
	if cfg.RAM.Size > 0 {
		log.Debug("machine: ram", "base", m.space.RAMBase(), "end", m.space.RAMEnd())
		m.ram = make([]byte, cfg.RAM.Size)
		ram := hv.SimpleMMIODevice{
			Regions:   []hv.MMIORegion{{Address: cfg.RAM.Base, Size: cfg.RAM.Size}},
			ReadFunc:  m.readRAM,
			WriteFunc: m.writeRAM,
		}
		if err := builder.WithMmioRegion(cfg.RAM.Base, cfg.RAM.Size, ram); err != nil {
			return nil, fmt.Errorf("machine: map ram: %w", err)
		}
	}

	ctrls := make([]*irqc.Controller, len(cfg.Controllers))
	for i, cc := range cfg.Controllers {
		ctrls[i] = irqc.New(cc.NumIRQs)
		ctrls[i].SetLogger(log.With("device", cc.Name))
	}

	// Fixed windows are registered first so allocation can route around them.
	for i, cc := range cfg.Controllers {
		if cc.Base == nil {
			continue
		}
		if _, err := m.space.RegisterFixed(cc.Name, *cc.Base, irqc.WindowSize(ctrls[i].NumIRQs())); err != nil {
			return nil, fmt.Errorf("machine: place %q: %w", cc.Name, err)
		}
		ctrls[i].SetBase(*cc.Base)
	}
	for i, cc := range cfg.Controllers {
		if cc.Base != nil {
			continue
		}
		alloc, err := m.space.Allocate(hv.MMIOAllocationRequest{
			Name:      cc.Name,
			Size:      irqc.WindowSize(ctrls[i].NumIRQs()),
			Alignment: windowAlignment,
		})
		if err != nil {
			return nil, fmt.Errorf("machine: place %q: %w", cc.Name, err)
		}
		ctrls[i].SetBase(alloc.Base)
	}

	lines, err := assignCPULines(cfg.Controllers)
	if err != nil {
		return nil, err
	}

	deviceConfigs := make([]hv.DeviceConfig, 0, len(ctrls))
	for i, cc := range cfg.Controllers {
		ctrl := ctrls[i]
		if err := ctrl.Init(m); err != nil {
			return nil, fmt.Errorf("machine: init %q: %w", cc.Name, err)
		}
		if err := builder.RegisterDevice(cc.Name, ctrl); err != nil {
			return nil, fmt.Errorf("machine: register %q: %w", cc.Name, err)
		}
		ctrl.SetOutput(m.cpu.AllocateLine(lines[i]))

		m.order = append(m.order, cc.Name)
		m.controllers[cc.Name] = ctrl
		m.cpuLines[cc.Name] = lines[i]
		deviceConfigs = append(deviceConfigs, hv.DeviceConfig{
			ID:    cc.Name,
			Base:  ctrl.Base(),
			Size:  irqc.WindowSize(ctrl.NumIRQs()),
			Lines: uint32(ctrl.NumIRQs()),
		})

		log.Debug("machine: controller placed",
			"device", cc.Name,
			"window", ctrl.MMIORegions()[0].String(),
			"lines", ctrl.NumIRQs(),
			"cpu_line", lines[i])
	}

	m.chipset, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("machine: build chipset: %w", err)
	}
	m.hash = hv.ComputeConfigHash(cfg.RAM.Base, cfg.RAM.Size, deviceConfigs)

	if err := m.chipset.Start(); err != nil {
		return nil, fmt.Errorf("machine: start: %w", err)
	}
	return m, nil
}

// assignCPULines honours explicit cpu_line values and hands the lowest free
// inputs to the rest, in configuration order.
func assignCPULines(ctrls []ControllerConfig) ([]uint8, error) {
	used := make(map[uint8]bool, len(ctrls))
	for _, cc := range ctrls {
		if cc.CPULine != nil {
			used[*cc.CPULine] = true
		}
	}

	out := make([]uint8, len(ctrls))
	next := 0
	for i, cc := range ctrls {
		if cc.CPULine != nil {
			out[i] = *cc.CPULine
			continue
		}
		for next < 256 && used[uint8(next)] {
			next++
		}
		if next >= 256 {
			return nil, fmt.Errorf("machine: no free cpu line for %q: %w", cc.Name, ErrInvalidConfig)
		}
		out[i] = uint8(next)
		used[uint8(next)] = true
	}
	return out, nil
}

func (m *Machine) cpuInterrupt(line uint8, level bool) {
	m.log.Info("machine: cpu interrupt", "line", line, "level", level)
}

func (m *Machine) readRAM(addr uint64, data []byte) error {
	copy(data, m.ram[addr-m.cfg.RAM.Base:])
	return nil
}

func (m *Machine) writeRAM(addr uint64, data []byte) error {
	copy(m.ram[addr-m.cfg.RAM.Base:], data)
	return nil
}

// Config returns the validated configuration the machine was built from.
func (m *Machine) Config() Config { return m.cfg }

// MemoryBase implements hv.VirtualMachine.
func (m *Machine) MemoryBase() uint64 { return m.space.RAMBase() }

// MemorySize implements hv.VirtualMachine.
func (m *Machine) MemorySize() uint64 { return m.space.RAMSize() }

// ConfigHash identifies the machine layout for snapshot compatibility.
func (m *Machine) ConfigHash() hv.ConfigHash { return m.hash }

// Layout returns every placed controller window, sorted by base address.
func (m *Machine) Layout() []hv.MMIOAllocation { return m.space.Regions() }

// ControllerNames returns controller names in configuration order.
func (m *Machine) ControllerNames() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Controllers returns the controllers in configuration order.
func (m *Machine) Controllers() []*irqc.Controller {
	out := make([]*irqc.Controller, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.controllers[name])
	}
	return out
}

// Controller looks up a controller by name.
func (m *Machine) Controller(name string) (*irqc.Controller, error) {
	ctrl, ok := m.controllers[name]
	if !ok {
		return nil, fmt.Errorf("machine: controller %q: %w", name, hv.ErrDeviceNotFound)
	}
	return ctrl, nil
}

// Read performs a guest read of size bytes at addr.
func (m *Machine) Read(addr uint64, size int) (uint64, error) {
	if size < 1 || size > 8 {
		return 0, fmt.Errorf("machine: read 0x%x size %d: %w", addr, size, ErrAccessSize)
	}
	var buf [8]byte
	if err := m.chipset.HandleMMIO(addr, buf[:size], false); err != nil {
		return 0, fmt.Errorf("machine: read 0x%x: %w", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write performs a guest write of the low size bytes of value at addr.
func (m *Machine) Write(addr uint64, size int, value uint64) error {
	if size < 1 || size > 8 {
		return fmt.Errorf("machine: write 0x%x size %d: %w", addr, size, ErrAccessSize)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	if err := m.chipset.HandleMMIO(addr, buf[:size], true); err != nil {
		return fmt.Errorf("machine: write 0x%x: %w", addr, err)
	}
	return nil
}

// WindowAddress resolves an offset inside a controller's register window.
func (m *Machine) WindowAddress(device string, offset uint64) (uint64, error) {
	region, ok := m.chipset.MMIORegion(device)
	if !ok {
		return 0, fmt.Errorf("machine: controller %q: %w", device, hv.ErrDeviceNotFound)
	}
	return region.Address + offset, nil
}

// SetInput drives input line of a controller's IRQ group.
func (m *Machine) SetInput(device string, line int, level bool) error {
	if err := m.chipset.SetInput(device, irqc.InputGroupName, line, level); err != nil {
		return fmt.Errorf("machine: %w", err)
	}
	return nil
}

// SetProperty writes a debug property of a controller.
func (m *Machine) SetProperty(device, name string, value int64) error {
	ctrl, err := m.Controller(device)
	if err != nil {
		return err
	}
	if err := ctrl.SetProperty(name, value); err != nil {
		return fmt.Errorf("machine: %s: %w", device, err)
	}
	return nil
}

// IRQ reports the level of the CPU input a controller drives.
func (m *Machine) IRQ(device string) (bool, error) {
	line, ok := m.cpuLines[device]
	if !ok {
		return false, fmt.Errorf("machine: controller %q: %w", device, hv.ErrDeviceNotFound)
	}
	return m.cpu.Level(line), nil
}

// CPULine returns the CPU input a controller drives.
func (m *Machine) CPULine(device string) (uint8, bool) {
	line, ok := m.cpuLines[device]
	return line, ok
}

// AssertedCPULines returns the CPU inputs currently held high.
func (m *Machine) AssertedCPULines() []uint8 { return m.cpu.Asserted() }

// Reset returns every controller to power-on state. RAM is left untouched.
func (m *Machine) Reset() error {
	if err := m.chipset.Reset(); err != nil {
		return fmt.Errorf("machine: reset: %w", err)
	}
	return nil
}

// Close stops every device.
func (m *Machine) Close() error {
	if err := m.chipset.Stop(); err != nil {
		return fmt.Errorf("machine: stop: %w", err)
	}
	return nil
}

// Snapshot captures the register state of every controller.
func (m *Machine) Snapshot() (hv.Snapshot, error) {
	snap := hv.Snapshot{
		ConfigHash: m.hash,
		Devices:    make(map[string]hv.DeviceSnapshot, len(m.order)),
	}
	for _, name := range m.order {
		ctrl := m.controllers[name]
		state, err := ctrl.CaptureSnapshot()
		if err != nil {
			return hv.Snapshot{}, fmt.Errorf("machine: capture %s %q: %w", ctrl.DeviceId(), name, err)
		}
		snap.Devices[name] = state
	}
	return snap, nil
}

// Restore loads controller state captured by Snapshot on a machine with the
// same layout.
func (m *Machine) Restore(snap hv.Snapshot) error {
	if snap.ConfigHash != m.hash {
		return fmt.Errorf("machine: snapshot %s, machine %s: %w", snap.ConfigHash, m.hash, ErrConfigMismatch)
	}
	for _, name := range m.order {
		state, ok := snap.Devices[name]
		if !ok {
			return fmt.Errorf("machine: snapshot has no state for %q", name)
		}
		ctrl := m.controllers[name]
		if err := ctrl.RestoreSnapshot(state); err != nil {
			return fmt.Errorf("machine: restore %s %q: %w", ctrl.DeviceId(), name, err)
		}
	}
	return nil
}

// SaveSnapshot writes a snapshot of the machine to path.
func (m *Machine) SaveSnapshot(path string) error {
	snap, err := m.Snapshot()
	if err != nil {
		return err
	}
	return hv.SaveSnapshot(path, snap)
}

// LoadSnapshot restores the machine from a file written by SaveSnapshot.
func (m *Machine) LoadSnapshot(path string) error {
	snap, err := hv.LoadSnapshot(path)
	if err != nil {
		return err
	}
	return m.Restore(snap)
}

var _ hv.VirtualMachine = (*Machine)(nil)
