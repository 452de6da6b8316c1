package irqc

import (
	"encoding/gob"
	"fmt"

	"github.com/tinyrange/irqc/internal/hv"
)

func init() {
	gob.Register(&controllerSnapshot{})
}

type controllerSnapshot struct {
	Status uint32
	Lines  []byte
}

func (c *Controller) DeviceId() string { return TypeName }

func (c *Controller) CaptureSnapshot() (hv.DeviceSnapshot, error) {
	snap := &controllerSnapshot{
		Status: uint32(c.status),
		Lines:  make([]byte, len(c.lines)),
	}
	for i, line := range c.lines {
		snap.Lines[i] = byte(line)
	}
	return snap, nil
}

func (c *Controller) RestoreSnapshot(snap hv.DeviceSnapshot) error {
	data, ok := snap.(*controllerSnapshot)
	if !ok {
		return fmt.Errorf("irqc: invalid snapshot type %T", snap)
	}
	if len(data.Lines) != len(c.lines) {
		return fmt.Errorf("irqc: snapshot line count mismatch: got %d, want %d", len(data.Lines), len(c.lines))
	}

	c.status = Status(data.Status)
	for i, line := range data.Lines {
		c.lines[i] = LineFlag(line)
	}

	c.update()
	return nil
}

var _ hv.DeviceSnapshotter = (*Controller)(nil)
