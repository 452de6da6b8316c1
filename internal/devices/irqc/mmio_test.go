package irqc

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/irqc/internal/chipset"
)

const testBase = 0x40000000

func newMMIOController(t *testing.T, n int) (*Controller, *testOutput) {
	t.Helper()
	c, out := newTestController(t, n)
	c.SetBase(testBase)
	return c, out
}

func writeStatus(t *testing.T, c *Controller, value uint32) {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	if err := c.WriteMMIO(testBase, buf); err != nil {
		t.Fatalf("write status: %v", err)
	}
}

func TestMMIOWindow(t *testing.T) {
	c, _ := newMMIOController(t, 64)
	regions := c.MMIORegions()
	if len(regions) != 1 {
		t.Fatalf("expected one region, got %d", len(regions))
	}
	if got, want := regions[0].Address, uint64(testBase); got != want {
		t.Fatalf("region base = 0x%x, want 0x%x", got, want)
	}
	if got, want := regions[0].Size, uint64(68); got != want {
		t.Fatalf("region size = %d, want %d", got, want)
	}
}

func TestMMIOStatusAndLines(t *testing.T) {
	c, out := newMMIOController(t, 8)

	writeStatus(t, c, uint32(GlobalEnabled))
	if err := c.WriteMMIO(testBase+BaseOffset+5, []byte{byte(LineActive | LineEnabled)}); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if !out.level {
		t.Fatalf("output not asserted after MMIO writes")
	}

	buf := make([]byte, 4)
	if err := c.ReadMMIO(testBase, buf); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != uint32(GlobalEnabled) {
		t.Fatalf("status = 0x%x, want 0x1", got)
	}

	buf = make([]byte, 4)
	if err := c.ReadMMIO(testBase+BaseOffset+4, buf); err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if got, want := binary.LittleEndian.Uint32(buf), uint32(0x0300); got != want {
		t.Fatalf("lines 4..7 = 0x%08x, want 0x%08x", got, want)
	}

	// A short status read sees the low bytes.
	one := make([]byte, 1)
	if err := c.ReadMMIO(testBase, one); err != nil {
		t.Fatalf("read status byte: %v", err)
	}
	if one[0] != 1 {
		t.Fatalf("status byte = 0x%x, want 0x1", one[0])
	}
}

func TestMMIOWideLineWrite(t *testing.T) {
	c, _ := newMMIOController(t, 8)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0x02020202)
	if err := c.WriteMMIO(testBase+BaseOffset, buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if c.Line(0) != LineEnabled {
		t.Fatalf("line 0 = %v, want enabled", c.Line(0))
	}
	for i := 1; i < 4; i++ {
		if c.Line(i) != 0 {
			t.Fatalf("line %d = %v, want idle", i, c.Line(i))
		}
	}
}

func TestMMIOInvalidOffsetsInsideWindow(t *testing.T) {
	c, _ := newMMIOController(t, 8)
	writeStatus(t, c, 0xffffffff)

	buf := []byte{0xaa, 0xaa}
	if err := c.ReadMMIO(testBase+2, buf); err != nil {
		t.Fatalf("read inside window returned error: %v", err)
	}
	if buf[0] != 0 || buf[1] != 0 {
		t.Fatalf("invalid read = %x, want zeros", buf)
	}
	if err := c.WriteMMIO(testBase+1, []byte{0}); err != nil {
		t.Fatalf("write inside window returned error: %v", err)
	}
	if c.Status() != 0xffffffff {
		t.Fatalf("status changed by write to offset 1: 0x%x", uint32(c.Status()))
	}
}

func TestMMIOOutsideWindow(t *testing.T) {
	c, _ := newMMIOController(t, 8)
	if err := c.ReadMMIO(testBase+BaseOffset+8, make([]byte, 1)); err == nil {
		t.Fatalf("expected error past the window")
	}
	if err := c.WriteMMIO(testBase-1, make([]byte, 2)); err == nil {
		t.Fatalf("expected error before the window")
	}
}

func TestChipsetWiring(t *testing.T) {
	c, out := newMMIOController(t, 4)

	b := chipset.NewBuilder()
	if err := b.RegisterDevice("irqc", c); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := cs.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status := make([]byte, 4)
	binary.LittleEndian.PutUint32(status, uint32(GlobalEnabled))
	if err := cs.HandleMMIO(testBase, status, true); err != nil {
		t.Fatalf("HandleMMIO status: %v", err)
	}
	if err := c.SetProperty(PropEnableIRQ, 3); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if err := cs.SetInput("irqc", InputGroupName, 3, true); err != nil {
		t.Fatalf("SetInput: %v", err)
	}
	if !out.level {
		t.Fatalf("output not asserted through chipset")
	}

	if err := cs.SetInput("irqc", InputGroupName, 4, true); err == nil {
		t.Fatalf("chipset delivered an out-of-range input line")
	}
	// Reads that run off the end of the window never reach the device.
	if err := cs.HandleMMIO(testBase+BaseOffset+2, make([]byte, 4), false); err == nil {
		t.Fatalf("chipset routed an access past the window")
	}

	if err := cs.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if out.level {
		t.Fatalf("output asserted after chipset reset")
	}
}

type testVM struct{ base, size uint64 }

func (vm testVM) MemoryBase() uint64 { return vm.base }
func (vm testVM) MemorySize() uint64 { return vm.size }

func TestInitRejectsWindowOverRAM(t *testing.T) {
	c, _ := newMMIOController(t, 64)
	if err := c.Init(testVM{base: 0x20000000, size: 0x40000}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Init(testVM{base: testBase + 0x40, size: 0x1000}); err == nil {
		t.Fatalf("expected error for window overlapping RAM")
	}
}
