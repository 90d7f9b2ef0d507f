// Package synthetic builds an in-memory target.Target for tests, the same
// way delve's proc tests build a fakeMemory backed by a byte slice: here the
// address space is sparse (heap structures live at far-apart addresses), so
// bytes are stored in a map of page-aligned chunks rather than one
// contiguous buffer.
package synthetic

import (
	"encoding/binary"
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/target"
)

const chunkSize = 0x1000

type chunkKey uint64

// Target is a fully in-memory target.Target, built with New and configured
// through the With* builder methods. The zero value is not usable: its maps
// are nil, so writes to it panic.
type Target struct {
	is64Bit      bool
	isHostBit64  bool
	osVersion    uint32
	ntGlobalFlag uint32

	chunks map[chunkKey][]byte

	// fieldOffsets/typeSizes model the symbol store a 64-bit target
	// queries through ReadField/FieldOffset/TypeSize.
	fieldOffsets map[string]uint32
	typeSizes    map[string]uint32
	fieldWidths  map[string]int

	peb uint64
}

// New returns an empty synthetic target for the given bitness.
func New(is64Bit bool) *Target {
	return &Target{
		is64Bit:      is64Bit,
		isHostBit64:  true,
		chunks:       make(map[chunkKey][]byte),
		fieldOffsets: make(map[string]uint32),
		typeSizes:    make(map[string]uint32),
		fieldWidths:  make(map[string]int),
	}
}

func (t *Target) WithOSVersion(v uint32) *Target     { t.osVersion = v; return t }
func (t *Target) WithNtGlobalFlag(f uint32) *Target   { t.ntGlobalFlag = f; return t }
func (t *Target) WithPEB(addr uint64) *Target         { t.peb = addr; return t }
func (t *Target) WithHostBit64(v bool) *Target        { t.isHostBit64 = v; return t }

// DefineField records the offset and width of typeName::fieldName, for
// ReadField/FieldOffset queries against the symbolic 64-bit path.
func (t *Target) DefineField(typeName, fieldName string, offset uint32, width int) *Target {
	key := typeName + "::" + fieldName
	t.fieldOffsets[key] = offset
	t.fieldWidths[key] = width
	return t
}

// DefineType records the size of typeName, for TypeSize queries.
func (t *Target) DefineType(typeName string, size uint32) *Target {
	t.typeSizes[typeName] = size
	return t
}

// WriteBytes stores raw bytes at address.
func (t *Target) WriteBytes(address uint64, data []byte) *Target {
	for i, b := range data {
		t.writeByte(address+uint64(i), b)
	}
	return t
}

// WriteUint16/32/64 store a little-endian integer at address.
func (t *Target) WriteUint16(address uint64, v uint16) *Target {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return t.WriteBytes(address, b[:])
}

func (t *Target) WriteUint32(address uint64, v uint32) *Target {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return t.WriteBytes(address, b[:])
}

func (t *Target) WriteUint64(address uint64, v uint64) *Target {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return t.WriteBytes(address, b[:])
}

// WritePointer writes v using the target's pointer width (4 on 32-bit, 8 on
// 64-bit targets).
func (t *Target) WritePointer(address uint64, v uint64) *Target {
	if t.is64Bit {
		return t.WriteUint64(address, v)
	}
	return t.WriteUint32(address, uint32(v))
}

func (t *Target) writeByte(address uint64, b byte) {
	key := chunkKey(address / chunkSize)
	chunk, ok := t.chunks[key]
	if !ok {
		chunk = make([]byte, chunkSize)
		t.chunks[key] = chunk
	}
	chunk[address%chunkSize] = b
}

func (t *Target) readByte(address uint64) (byte, bool) {
	key := chunkKey(address / chunkSize)
	chunk, ok := t.chunks[key]
	if !ok {
		return 0, false
	}
	return chunk[address%chunkSize], true
}

func (t *Target) ReadMemory(address uint64, width int) ([]byte, error) {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		b, ok := t.readByte(address + uint64(i))
		if !ok {
			return nil, &target.MemoryReadFailedError{Address: address, Width: width}
		}
		out[i] = b
	}
	return out, nil
}

func (t *Target) ReadField(address uint64, typeName, fieldName string) (uint64, error) {
	offset, err := t.FieldOffset(typeName, fieldName)
	if err != nil {
		return 0, err
	}
	width := t.fieldWidths[typeName+"::"+fieldName]
	if width == 0 {
		width = 8
	}
	data, err := t.ReadMemory(address+uint64(offset), width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(data)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(data)), nil
	case 8:
		return binary.LittleEndian.Uint64(data), nil
	default:
		return 0, fmt.Errorf("synthetic: unsupported field width %d", width)
	}
}

func (t *Target) FieldOffset(typeName, fieldName string) (uint32, error) {
	offset, ok := t.fieldOffsets[typeName+"::"+fieldName]
	if !ok {
		return 0, &target.SymbolLookupFailedError{TypeName: typeName, FieldName: fieldName}
	}
	return offset, nil
}

func (t *Target) TypeSize(typeName string) (uint32, error) {
	size, ok := t.typeSizes[typeName]
	if !ok {
		return 0, &target.SymbolLookupFailedError{TypeName: typeName}
	}
	return size, nil
}

func (t *Target) PEBAddress() (uint64, error) {
	if t.peb == 0 {
		return 0, &target.PebInaccessibleError{Address: t.peb}
	}
	return t.peb, nil
}

func (t *Target) Is64Bit() bool      { return t.is64Bit }
func (t *Target) IsHostBit64() bool  { return t.isHostBit64 }
func (t *Target) OSVersion() uint32  { return t.osVersion }
func (t *Target) NtGlobalFlag() uint32 { return t.ntGlobalFlag }

var _ target.Target = (*Target)(nil)
