package hv

import (
	"bytes"
	"encoding/gob"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
)

type testDeviceSnapshot struct {
	Status uint32
	Lines  []byte
}

func init() {
	gob.Register(&testDeviceSnapshot{})
}

func TestSnapshotRoundTrip(t *testing.T) {
	want := Snapshot{
		ConfigHash: ComputeConfigHash(0, 0x1000, []DeviceConfig{{ID: "irqc", Base: 0x2000, Size: 0x44, Lines: 64}}),
		Devices: map[string]DeviceSnapshot{
			"irqc":  &testDeviceSnapshot{Status: 1, Lines: []byte{0, 3, 2}},
			"other": &testDeviceSnapshot{Lines: []byte{1}},
		},
	}

	path := filepath.Join(t.TempDir(), "machine.snap")
	if err := SaveSnapshot(path, want); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Fatalf("snapshot mismatch: %v", diff)
	}
}

func TestReadSnapshotRejectsForeignData(t *testing.T) {
	_, err := ReadSnapshot(bytes.NewReader([]byte("not a snapshot at all")))
	if !errors.Is(err, ErrSnapshotMagic) {
		t.Fatalf("expected ErrSnapshotMagic, got %v", err)
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, Snapshot{}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	raw := buf.Bytes()
	raw[4] = 9
	_, err = ReadSnapshot(bytes.NewReader(raw))
	if !errors.Is(err, ErrSnapshotVersion) {
		t.Fatalf("expected ErrSnapshotVersion, got %v", err)
	}
}

func TestConfigHashDependsOnLayout(t *testing.T) {
	base := []DeviceConfig{{ID: "irqc", Base: 0x40000000, Size: 0x44, Lines: 64}}
	a := ComputeConfigHash(0x20000000, 0x40000, base)
	b := ComputeConfigHash(0x20000000, 0x40000, []DeviceConfig{{ID: "irqc", Base: 0x40000000, Size: 0x24, Lines: 32}})
	if a == b {
		t.Fatalf("hash did not change with line count")
	}
	if a != ComputeConfigHash(0x20000000, 0x40000, base) {
		t.Fatalf("hash is not deterministic")
	}
	if len(a.String()) != 64 {
		t.Fatalf("hash string length = %d, want 64", len(a.String()))
	}
}
