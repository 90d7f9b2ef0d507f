// Package record defines the canonical heap record surfaced to a
// downstream consumer, and the parser that derives one from a decoded
// heap-entry header under the UST/HPA/neither diagnostic-flag regimes.
package record

import (
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/target"
)

// Record is the canonical internal form for a single busy allocation.
// Address and Size describe the raw block including metadata; UserAddress
// and UserSize describe the region the application actually sees.
type Record struct {
	USTAddress  uint64
	Size        uint64
	Address     uint64
	UserSize    uint64
	UserAddress uint64
}

// SizeInvariantViolatedError reports that a size-derived field failed its
// bound check while parsing a record.
type SizeInvariantViolatedError struct {
	Kind     string
	Observed uint64
	Bound    uint64
}

func (e *SizeInvariantViolatedError) Error() string {
	return fmt.Sprintf("%s invariant violated: observed 0x%x, bound 0x%x", e.Kind, e.Observed, e.Bound)
}

// byBitness holds the hdr-relative offsets used by Parse, which differ by
// bitness but not by OS version: they describe the undocumented layout of
// the metadata that follows a heap-entry header, which is unrelated to the
// symbol-driven structure offsets in package layout.
type byBitness struct {
	ustOffsetHPA   uint64 // hdr + this, when HPA is set
	userAddrHPA    uint64
	userSizeOffHPA uint64 // u16 at hdr + this
	userAddrUST    uint64
	extraOffsetUST uint64 // u16 at hdr + this
}

var offsets32 = byBitness{
	ustOffsetHPA:   0x18,
	userAddrHPA:    0x20,
	userSizeOffHPA: 0x8,
	userAddrUST:    0x10,
	extraOffsetUST: 0xc,
}

var offsets64 = byBitness{
	ustOffsetHPA:   0x30,
	userAddrHPA:    0x40,
	userSizeOffHPA: 0x10,
	userAddrUST:    0x20,
	extraOffsetUST: 0x1c,
}

// Parse computes a Record for a busy entry at address, under the flags
// carried in desc. It dispatches the hdr-relative offsets by desc.Is64Bit
// and otherwise shares one code path for both bitnesses.
func Parse(t target.Target, address uint64, entry heapentry.Decoded, desc target.Descriptor) (Record, error) {
	unit := layout.Unit(desc.Is64Bit)
	headerSize := unit
	size := uint64(entry.Size) * unit
	hdr := address + headerSize

	off := offsets32
	ptrWidth := 4
	if desc.Is64Bit {
		off = offsets64
		ptrWidth = 8
	}

	rec := Record{Size: size, Address: address}

	if !desc.HasUST() && !desc.HasHPA() {
		rec.USTAddress = 0
		rec.UserSize = size - uint64(entry.ExtendedBlockSignature)
		rec.UserAddress = hdr
		return rec, nil
	}

	ustOffset := uint64(0)
	if desc.HasHPA() {
		ustOffset = off.ustOffsetHPA
	}
	ustRaw, err := t.ReadMemory(hdr+ustOffset, ptrWidth)
	if err != nil {
		return Record{}, &target.MemoryReadFailedError{Address: hdr + ustOffset, Width: ptrWidth}
	}
	rec.USTAddress = widen(ustRaw)

	if desc.HasHPA() {
		userSizeRaw, err := t.ReadMemory(hdr+off.userSizeOffHPA, 2)
		if err != nil {
			return Record{}, &target.MemoryReadFailedError{Address: hdr + off.userSizeOffHPA, Width: 2}
		}
		userSize := widen(userSizeRaw)
		if size <= userSize {
			return Record{}, &SizeInvariantViolatedError{Kind: "hpa user-size", Observed: userSize, Bound: size}
		}
		rec.UserSize = userSize
		rec.UserAddress = hdr + off.userAddrHPA
		return rec, nil
	}

	extraRaw, err := t.ReadMemory(hdr+off.extraOffsetUST, 2)
	if err != nil {
		return Record{}, &target.MemoryReadFailedError{Address: hdr + off.extraOffsetUST, Width: 2}
	}
	extra := widen(extraRaw)
	if extra > size {
		return Record{}, &SizeInvariantViolatedError{Kind: "ust extra", Observed: extra, Bound: size}
	}
	rec.UserSize = size - extra
	rec.UserAddress = hdr + off.userAddrUST
	return rec, nil
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
