package irqc

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"

	"github.com/tinyrange/irqc/internal/hv"
)

func TestSnapshotRestoresRegistersAndOutput(t *testing.T) {
	src, _ := newTestController(t, 8)
	enableGlobal(t, src)
	src.DebugEnable(6)
	src.SetLine(6, true)
	src.Write(BaseOffset+2, 1, 0xf0)

	snap, err := src.CaptureSnapshot()
	if err != nil {
		t.Fatalf("CaptureSnapshot: %v", err)
	}

	// Through the snapshot file format, as a machine save would.
	var buf bytes.Buffer
	if err := hv.WriteSnapshot(&buf, hv.Snapshot{Devices: map[string]hv.DeviceSnapshot{"irqc": snap}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	decoded, err := hv.ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	dst, out := newTestController(t, 8)
	if err := dst.RestoreSnapshot(decoded.Devices["irqc"]); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	wantStatus, wantLines := registers(src)
	gotStatus, gotLines := registers(dst)
	if gotStatus != wantStatus {
		t.Fatalf("status = 0x%x, want 0x%x", gotStatus, wantStatus)
	}
	if diff := deep.Equal(gotLines, wantLines); diff != nil {
		t.Fatalf("lines differ: %v\n%s", diff, spew.Sdump(dst))
	}
	if !out.level {
		t.Fatalf("restored controller did not drive its output")
	}
}

func TestRestoreSnapshotRejectsMismatch(t *testing.T) {
	small := New(4)
	snap, err := small.CaptureSnapshot()
	if err != nil {
		t.Fatalf("CaptureSnapshot: %v", err)
	}
	if err := New(8).RestoreSnapshot(snap); err == nil {
		t.Fatalf("expected line count mismatch error")
	}
	if err := New(8).RestoreSnapshot(struct{}{}); err == nil {
		t.Fatalf("expected invalid snapshot type error")
	}
}
