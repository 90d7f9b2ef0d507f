// Package heapentry decodes obfuscated Windows heap-entry headers: a
// byte-wise XOR against a per-heap encoding key, followed by a checksum
// check on the lane appropriate to the target's bitness.
package heapentry

import (
	"encoding/binary"
	"fmt"
)

// Size32 is the on-wire size of a 32-bit heap entry header.
const Size32 = 8

// Size64 is the on-wire size of a 64-bit heap entry header (the 8-byte
// PreviousBlockPrivateData word followed by the same 8-byte tail as the
// 32-bit entry).
const Size64 = 16

// Decoded is the bitness-agnostic view of a heap-entry header after XOR
// unmasking. Size is in block units (8 bytes on 32-bit, 16 on 64-bit); the
// caller must multiply by the unit to get a byte count.
type Decoded struct {
	Size                   uint16
	Flags                  uint8
	SmallTagIndex          uint8
	PreviousSize           uint16
	SegmentOffset          uint8
	ExtendedBlockSignature uint8
}

// DecodeChecksumFailedError reports that a decoded entry's checksum lane
// does not XOR to zero, meaning the heap is corrupt or the encoding key was
// read from the wrong address.
type DecodeChecksumFailedError struct {
	Address uint64
}

func (e *DecodeChecksumFailedError) Error() string {
	return fmt.Sprintf("heap entry checksum failed at 0x%x", e.Address)
}

// Decode32 XORs a raw 8-byte 32-bit heap-entry header against key and
// validates the checksum over bytes 0..3 of the unmasked result.
func Decode32(address uint64, raw, key []byte) (Decoded, error) {
	if len(raw) != Size32 || len(key) != Size32 {
		return Decoded{}, fmt.Errorf("heapentry: want %d-byte entry and key, got %d and %d", Size32, len(raw), len(key))
	}
	var buf [Size32]byte
	for i := range buf {
		buf[i] = raw[i] ^ key[i]
	}
	if buf[0]^buf[1]^buf[2]^buf[3] != 0 {
		return Decoded{}, &DecodeChecksumFailedError{Address: address}
	}
	return Decoded{
		Size:                   binary.LittleEndian.Uint16(buf[0:2]),
		Flags:                  buf[2],
		SmallTagIndex:          buf[3],
		PreviousSize:           binary.LittleEndian.Uint16(buf[4:6]),
		SegmentOffset:          buf[6],
		ExtendedBlockSignature: buf[7],
	}, nil
}

// Decode64 XORs a raw 16-byte 64-bit heap-entry header against key and
// validates the checksum over bytes 8..11 of the unmasked result (the tail
// that mirrors the 32-bit layout, offset by the leading
// PreviousBlockPrivateData word).
func Decode64(address uint64, raw, key []byte) (Decoded, error) {
	if len(raw) != Size64 || len(key) != Size64 {
		return Decoded{}, fmt.Errorf("heapentry: want %d-byte entry and key, got %d and %d", Size64, len(raw), len(key))
	}
	var buf [Size64]byte
	for i := range buf {
		buf[i] = raw[i] ^ key[i]
	}
	if buf[8]^buf[9]^buf[10]^buf[11] != 0 {
		return Decoded{}, &DecodeChecksumFailedError{Address: address}
	}
	return Decoded{
		Size:                   binary.LittleEndian.Uint16(buf[8:10]),
		Flags:                  buf[10],
		SmallTagIndex:          buf[11],
		PreviousSize:           binary.LittleEndian.Uint16(buf[12:14]),
		SegmentOffset:          buf[14],
		ExtendedBlockSignature: buf[15],
	}, nil
}

// ParseRaw32 interprets raw bytes as a 32-bit heap-entry header without
// XOR-unmasking or a checksum check. LFH subsegment blocks are read this
// way in the source: their ExtendedBlockSignature byte is a busy/free
// marker written directly by the frontend allocator, not obfuscated the
// way backend and VirtualAlloc entries are.
func ParseRaw32(raw []byte) (Decoded, error) {
	if len(raw) != Size32 {
		return Decoded{}, fmt.Errorf("heapentry: want %d-byte entry, got %d", Size32, len(raw))
	}
	return Decoded{
		Size:                   binary.LittleEndian.Uint16(raw[0:2]),
		Flags:                  raw[2],
		SmallTagIndex:          raw[3],
		PreviousSize:           binary.LittleEndian.Uint16(raw[4:6]),
		SegmentOffset:          raw[6],
		ExtendedBlockSignature: raw[7],
	}, nil
}

// ParseRaw64 is ParseRaw32 for the 64-bit layout.
func ParseRaw64(raw []byte) (Decoded, error) {
	if len(raw) != Size64 {
		return Decoded{}, fmt.Errorf("heapentry: want %d-byte entry, got %d", Size64, len(raw))
	}
	return Decoded{
		Size:                   binary.LittleEndian.Uint16(raw[8:10]),
		Flags:                  raw[10],
		SmallTagIndex:          raw[11],
		PreviousSize:           binary.LittleEndian.Uint16(raw[12:14]),
		SegmentOffset:          raw[14],
		ExtendedBlockSignature: raw[15],
	}, nil
}

// ParseRaw dispatches to ParseRaw32 or ParseRaw64 by is64Bit.
func ParseRaw(is64Bit bool, raw []byte) (Decoded, error) {
	if is64Bit {
		return ParseRaw64(raw)
	}
	return ParseRaw32(raw)
}

// Decode dispatches to Decode32 or Decode64 by is64Bit.
func Decode(is64Bit bool, address uint64, raw, key []byte) (Decoded, error) {
	if is64Bit {
		return Decode64(address, raw, key)
	}
	return Decode32(address, raw, key)
}

// Encode32 applies the inverse of Decode32: XORing a Decoded entry's
// wire representation against key reproduces the obfuscated bytes found in
// the target. It exists to let tests build synthetic fixtures and to
// exercise the round-trip property (Decode(Encode(x,k),k) == x).
func Encode32(d Decoded, key []byte) ([]byte, error) {
	if len(key) != Size32 {
		return nil, fmt.Errorf("heapentry: want %d-byte key, got %d", Size32, len(key))
	}
	var buf [Size32]byte
	binary.LittleEndian.PutUint16(buf[0:2], d.Size)
	buf[2] = d.Flags
	buf[3] = d.SmallTagIndex
	binary.LittleEndian.PutUint16(buf[4:6], d.PreviousSize)
	buf[6] = d.SegmentOffset
	buf[7] = d.ExtendedBlockSignature
	out := make([]byte, Size32)
	for i := range out {
		out[i] = buf[i] ^ key[i]
	}
	return out, nil
}

// Encode64 is Encode32 for the 64-bit layout; the leading
// PreviousBlockPrivateData word is encoded as zero before obfuscation,
// since the decoder never inspects it.
func Encode64(d Decoded, key []byte) ([]byte, error) {
	if len(key) != Size64 {
		return nil, fmt.Errorf("heapentry: want %d-byte key, got %d", Size64, len(key))
	}
	var buf [Size64]byte
	binary.LittleEndian.PutUint16(buf[8:10], d.Size)
	buf[10] = d.Flags
	buf[11] = d.SmallTagIndex
	binary.LittleEndian.PutUint16(buf[12:14], d.PreviousSize)
	buf[14] = d.SegmentOffset
	buf[15] = d.ExtendedBlockSignature
	out := make([]byte, Size64)
	for i := range out {
		out[i] = buf[i] ^ key[i]
	}
	return out, nil
}
