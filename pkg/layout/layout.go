// Package layout implements the version/bitness multiplexing called for in
// the design notes: rather than parallel 32- and 64-bit walker code paths,
// every structure-offset lookup goes through a single Offsets interface.
// On 32-bit targets it is satisfied by a table of offsets hard-coded per OS
// release (symbol coverage under WOW is unreliable); on 64-bit targets it
// is satisfied by symbol-driven lookups against the target's loaded type
// information (structure layouts shift between OS releases there).
package layout

import (
	"github.com/go-heapstat/heapstat/pkg/symcache"
	"github.com/go-heapstat/heapstat/pkg/target"
)

// Unit returns the heap-entry block unit: 8 bytes on a 32-bit target, 16 on
// a 64-bit one. It is also the on-wire size of the entry header itself.
func Unit(is64Bit bool) uint64 {
	if is64Bit {
		return 16
	}
	return 8
}

// Offsets resolves the structure offsets the LFH, segment and VirtualAlloc
// walkers need, without the caller knowing whether they came from a fixed
// table or a symbol lookup.
type Offsets interface {
	// FrontEndHeapTypeOffset is the offset of _HEAP::FrontEndHeapType.
	FrontEndHeapTypeOffset() (uint64, error)
	// FrontEndHeapOffset is the offset of _HEAP::FrontEndHeap.
	FrontEndHeapOffset() (uint64, error)
	// SubSegmentZonesOffset is the offset of _LFH_HEAP::SubSegmentZones.
	SubSegmentZonesOffset() (uint64, error)
	// SubsegmentSize is sizeof(_HEAP_SUBSEGMENT).
	SubsegmentSize() (uint64, error)
	// BlockSizeOffset is the offset of _HEAP_SUBSEGMENT::BlockSize.
	BlockSizeOffset() (uint64, error)
	// BlockCountOffset is the offset of _HEAP_SUBSEGMENT::BlockCount.
	BlockCountOffset() (uint64, error)
	// UserBlocksOffset is the offset of _HEAP_SUBSEGMENT::UserBlocks.
	UserBlocksOffset() (uint64, error)
	// LFHBlockZoneSize is sizeof(_LFH_BLOCK_ZONE).
	LFHBlockZoneSize() (uint64, error)
	// FreePointerOffset is the offset of _LFH_BLOCK_ZONE::FreePointer.
	FreePointerOffset() (uint64, error)
	// EncodingOffset is the offset of _HEAP::Encoding.
	EncodingOffset() (uint64, error)
	// VirtualAllocdBlocksOffset is the offset of _HEAP::VirtualAllocdBlocks.
	VirtualAllocdBlocksOffset() (uint64, error)
}

// Context bundles everything the walker needs to treat 32- and 64-bit
// targets uniformly: the unit size, the Win8+ branch and an Offsets
// resolver appropriate to the target's bitness.
type Context struct {
	Is64Bit  bool
	Win8Plus bool
	Unit     uint64
	Offsets  Offsets
}

// New builds the Context for t, dispatching to the fixed 32-bit table or
// the symbol-driven 64-bit resolver. The 64-bit resolver is wrapped in
// symcache so the FieldOffset/TypeSize lookups symbolic64 repeats for every
// LFH zone and every heap are only ever performed once per (type, field)
// pair for the lifetime of the walk.
func New(t target.Target) Context {
	desc := target.Describe(t)
	var off Offsets
	if desc.Is64Bit {
		cached, err := symcache.New(t, 0)
		if err != nil {
			off = symbolic64{t}
		} else {
			off = symbolic64{cached}
		}
	} else {
		off = fixed32{win8Plus: desc.IsWin8Plus()}
	}
	return Context{
		Is64Bit:  desc.Is64Bit,
		Win8Plus: desc.IsWin8Plus(),
		Unit:     Unit(desc.Is64Bit),
		Offsets:  off,
	}
}
