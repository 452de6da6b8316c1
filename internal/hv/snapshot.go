package hv

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Snapshot file format constants
const (
	SnapshotMagic   uint32 = 0x49525143 // "IRQC"
	SnapshotVersion uint32 = 1
)

var (
	ErrSnapshotMagic   = errors.New("not a snapshot file")
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// Snapshot is the saved state of every snapshot-capable device of a machine.
type Snapshot struct {
	ConfigHash ConfigHash
	Devices    map[string]DeviceSnapshot
}

// SaveSnapshot writes a snapshot to the specified file path.
func SaveSnapshot(path string, snap Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if err := WriteSnapshot(f, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return f.Close()
}

// LoadSnapshot reads a snapshot from the specified file path.
func LoadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	snap, err := ReadSnapshot(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	return snap, nil
}

// WriteSnapshot encodes snap as a header followed by gob-encoded devices.
// Device snapshot types must be registered with gob.Register.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	if err := binary.Write(w, binary.LittleEndian, SnapshotMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, SnapshotVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if _, err := w.Write(snap.ConfigHash[:]); err != nil {
		return fmt.Errorf("write config hash: %w", err)
	}
	return writeDeviceSnapshots(w, snap.Devices)
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return Snapshot{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != SnapshotMagic {
		return Snapshot{}, fmt.Errorf("magic 0x%08x: %w", magic, ErrSnapshotMagic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Snapshot{}, fmt.Errorf("read version: %w", err)
	}
	if version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("version %d: %w", version, ErrSnapshotVersion)
	}

	var snap Snapshot
	if _, err := io.ReadFull(r, snap.ConfigHash[:]); err != nil {
		return Snapshot{}, fmt.Errorf("read config hash: %w", err)
	}

	devices, err := readDeviceSnapshots(r)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Devices = devices

	return snap, nil
}

func writeDeviceSnapshots(w io.Writer, devices map[string]DeviceSnapshot) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(devices))); err != nil {
		return fmt.Errorf("write device count: %w", err)
	}

	// Write in sorted order for determinism
	deviceIDs := make([]string, 0, len(devices))
	for id := range devices {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	for _, id := range deviceIDs {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write device id length: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write device id: %w", err)
		}

		var buf bytes.Buffer
		enc := gob.NewEncoder(&buf)
		snap := devices[id]
		if err := enc.Encode(&snap); err != nil {
			return fmt.Errorf("gob encode device %s: %w", id, err)
		}

		if err := binary.Write(w, binary.LittleEndian, uint32(buf.Len())); err != nil {
			return fmt.Errorf("write device data length: %w", err)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write device data: %w", err)
		}
	}

	return nil
}

func readDeviceSnapshots(r io.Reader) (map[string]DeviceSnapshot, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read device count: %w", err)
	}

	devices := make(map[string]DeviceSnapshot, count)

	for i := uint32(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("read device id length: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("read device id: %w", err)
		}
		id := string(idBytes)

		var dataLen uint32
		if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
			return nil, fmt.Errorf("read device data length: %w", err)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read device data: %w", err)
		}

		var snap DeviceSnapshot
		dec := gob.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&snap); err != nil {
			return nil, fmt.Errorf("gob decode device %s: %w", id, err)
		}

		devices[id] = snap
	}

	return devices, nil
}
