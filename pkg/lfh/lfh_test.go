package lfh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/target/synthetic"
)

// buildLFHFixture wires a heap with one LFH zone containing one subsegment
// of two 64-byte blocks (BlockSize=4 units of 16 bytes), on a 64-bit,
// Win8+, UST-enabled target. block1Signature lets callers mark the second
// block free instead of busy.
func buildLFHFixture(t *testing.T, block1Signature byte) (*synthetic.Target, uint64, target.Descriptor, layout.Context) {
	st := synthetic.New(true).WithOSVersion(603).WithNtGlobalFlag(uint32(target.FlagUST))

	st.DefineField("ntdll!_HEAP", "FrontEndHeapType", 0x3, 1)
	st.DefineField("ntdll!_HEAP", "FrontEndHeap", 0x10, 8)
	st.DefineField("ntdll!_LFH_HEAP", "SubSegmentZones", 0x20, 8)
	st.DefineType("ntdll!_HEAP_SUBSEGMENT", 0x30)
	st.DefineField("ntdll!_HEAP_SUBSEGMENT", "BlockSize", 0x14, 2)
	st.DefineField("ntdll!_HEAP_SUBSEGMENT", "BlockCount", 0x16, 2)
	st.DefineField("ntdll!_HEAP_SUBSEGMENT", "UserBlocks", 0x8, 8)
	st.DefineType("ntdll!_LFH_BLOCK_ZONE", 0x18)
	st.DefineField("ntdll!_LFH_BLOCK_ZONE", "FreePointer", 0x10, 8)
	st.DefineField("ntdll!_HEAP_USERDATA_HEADER", "FirstAllocationOffset", 0x10, 2)

	const heap = 0x2000
	st.WriteBytes(heap+0x3, []byte{0x02})
	st.WritePointer(heap+0x10, 0x3000)

	const frontEndHeap = 0x3000
	const start = frontEndHeap + 0x20
	const zone = 0x4000
	st.WritePointer(start, zone)
	st.WritePointer(zone, start)
	st.WritePointer(zone+0x10, zone+0x48) // FreePointer: exactly past one subsegment

	const subsegment = zone + 0x18
	st.WriteUint16(subsegment+0x14, 4) // BlockSize: 4 units == 64 bytes
	st.WriteUint16(subsegment+0x16, 2) // BlockCount
	st.WritePointer(subsegment+0x8, 0x5000)

	const userBlocks = 0x5000
	st.WriteUint16(userBlocks+0x10, 0x30) // FirstAllocationOffset

	const block0 = userBlocks + 0x30
	const block1 = block0 + 64
	st.WriteBytes(block0+15, []byte{0xc2})
	st.WriteBytes(block1+15, []byte{block1Signature})

	const hdr0 = block0 + 16
	st.WriteUint64(hdr0, 0xdead0000)
	st.WriteUint16(hdr0+0x1c, 0x10)

	const hdr1 = block1 + 16
	st.WriteUint64(hdr1, 0xbeef0000)
	st.WriteUint16(hdr1+0x1c, 0x8)

	desc := target.Describe(st)
	ctx := layout.New(st)
	return st, heap, desc, ctx
}

func TestWalkReturnsBusyLFHBlocks(t *testing.T) {
	st, heap, desc, ctx := buildLFHFixture(t, 0xc2)

	records, err := Walk(st, heap, desc, ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, uint64(0x5030), records[0].Address)
	require.Equal(t, uint64(64), records[0].Size)
	require.Equal(t, uint64(0xdead0000), records[0].USTAddress)
	require.Equal(t, uint64(48), records[0].UserSize)
	require.Equal(t, uint64(0x5060), records[0].UserAddress)

	require.Equal(t, uint64(0x5070), records[1].Address)
	require.Equal(t, uint64(64), records[1].Size)
	require.Equal(t, uint64(0xbeef0000), records[1].USTAddress)
	require.Equal(t, uint64(56), records[1].UserSize)
	require.Equal(t, uint64(0x50a0), records[1].UserAddress)
}

func TestWalkSkipsNonBusyBlocks(t *testing.T) {
	st, heap, desc, ctx := buildLFHFixture(t, 0x00)

	records, err := Walk(st, heap, desc, ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(0x5030), records[0].Address)
}

func TestWalkReturnsNilWhenNotLFHFrontend(t *testing.T) {
	st := synthetic.New(true).WithOSVersion(603)
	const heap = 0x2000
	st.WriteBytes(heap+0x3, []byte{0x00}) // frontend type 0 == lookaside lists, not LFH

	desc := target.Describe(st)
	ctx := layout.Context{Is64Bit: true, Win8Plus: true, Unit: layout.Unit(true), Offsets: fakeOffsets{}}

	records, err := Walk(st, heap, desc, ctx)
	require.NoError(t, err)
	require.Nil(t, records)
}

// fakeOffsets satisfies layout.Offsets without needing a fully wired
// synthetic target; TestWalkReturnsNilWhenNotLFHFrontend only exercises the
// FrontEndHeapType short-circuit, before any other offset is consulted.
type fakeOffsets struct{}

func (fakeOffsets) FrontEndHeapTypeOffset() (uint64, error) { return 0x3, nil }
func (fakeOffsets) FrontEndHeapOffset() (uint64, error)     { return 0x10, nil }
func (fakeOffsets) SubSegmentZonesOffset() (uint64, error)  { return 0, nil }
func (fakeOffsets) SubsegmentSize() (uint64, error)         { return 0, nil }
func (fakeOffsets) BlockSizeOffset() (uint64, error)        { return 0, nil }
func (fakeOffsets) BlockCountOffset() (uint64, error)       { return 0, nil }
func (fakeOffsets) UserBlocksOffset() (uint64, error)       { return 0, nil }
func (fakeOffsets) LFHBlockZoneSize() (uint64, error)       { return 0, nil }
func (fakeOffsets) FreePointerOffset() (uint64, error)      { return 0, nil }
func (fakeOffsets) EncodingOffset() (uint64, error)             { return 0, nil }
func (fakeOffsets) VirtualAllocdBlocksOffset() (uint64, error)  { return 0, nil }
