package hv

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// ConfigHash identifies a machine layout. A snapshot can only be restored
// into a machine with the same hash.
type ConfigHash [32]byte

// DeviceConfig captures the parts of a device's configuration that change the
// shape of its saved state.
type DeviceConfig struct {
	ID    string
	Base  uint64
	Size  uint64
	Lines uint32
}

// ComputeConfigHash computes a deterministic hash of the machine layout.
func ComputeConfigHash(ramBase, ramSize uint64, deviceConfigs []DeviceConfig) ConfigHash {
	h := sha256.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], ramBase)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], ramSize)
	h.Write(buf[:])

	// Device configurations (order matters)
	for _, dc := range deviceConfigs {
		h.Write([]byte(dc.ID))
		h.Write([]byte{0}) // null terminator
		binary.LittleEndian.PutUint64(buf[:], dc.Base)
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], dc.Size)
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:4], dc.Lines)
		h.Write(buf[:4])
	}

	var result ConfigHash
	copy(result[:], h.Sum(nil))
	return result
}

// String returns a hex string representation of the hash.
func (h ConfigHash) String() string {
	return hex.EncodeToString(h[:])
}
