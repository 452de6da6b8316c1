package chipset

import (
	"testing"

	"github.com/go-test/deep"
)

type sinkCall struct {
	Line  uint8
	Level bool
}

func TestLineSetForwardsOnlyChanges(t *testing.T) {
	var calls []sinkCall
	ls := NewLineSet(InterruptSinkFunc(func(line uint8, level bool) {
		calls = append(calls, sinkCall{line, level})
	}))

	cpu := ls.AllocateLine(0)
	cpu.SetLevel(false)
	cpu.SetLevel(true)
	cpu.SetLevel(true)
	cpu.SetLevel(false)

	want := []sinkCall{{0, true}, {0, false}}
	if diff := deep.Equal(calls, want); diff != nil {
		t.Fatalf("sink calls: %v", diff)
	}
}

func TestLineSetLevels(t *testing.T) {
	ls := NewLineSet(nil)
	a := ls.AllocateLine(3)
	b := ls.AllocateLine(1)

	a.SetLevel(true)
	b.SetLevel(true)
	if !ls.Level(3) || !ls.Level(1) || ls.Level(2) {
		t.Fatalf("unexpected levels")
	}
	if diff := deep.Equal(ls.Asserted(), []uint8{1, 3}); diff != nil {
		t.Fatalf("Asserted: %v", diff)
	}

	b.PulseInterrupt()
	if !ls.Level(1) {
		t.Fatalf("pulse changed the held level")
	}
}

func TestLineInterruptAdapters(t *testing.T) {
	var levels []bool
	line := LineInterruptFromFunc(func(level bool) { levels = append(levels, level) })
	line.PulseInterrupt()
	line.SetLevel(true)
	if diff := deep.Equal(levels, []bool{true, false, true}); diff != nil {
		t.Fatalf("levels: %v", diff)
	}

	// Must not panic.
	LineInterruptDetached().SetLevel(true)
	LineInterruptFromFunc(nil).PulseInterrupt()
}
