package valloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/target/synthetic"
)

var testKey = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

const heap = 0x2000
const head = heap + 0x30
const node = 0x6000

func buildVallocFixture(t *testing.T, ntGlobalFlag uint32, extra uint16, size uint64) (*synthetic.Target, target.Descriptor, layout.Context) {
	st := synthetic.New(true).WithNtGlobalFlag(ntGlobalFlag)
	st.DefineField("ntdll!_HEAP", "VirtualAllocdBlocks", 0x30, 8)

	st.WritePointer(head, node)
	st.WritePointer(node, head) // one-node list, loops back to head

	st.WriteUint64(node+0x20, size)

	// Flags=0x40 makes the checksum lane (Size low/high XOR Flags XOR
	// SmallTagIndex) cancel to zero for extra=0x40; any extra value just
	// needs a Flags byte chosen the same way.
	decoded := heapentry.Decoded{Size: extra, Flags: byte(extra)}
	raw, err := heapentry.Encode64(decoded, testKey)
	require.NoError(t, err)
	st.WriteBytes(node+0x30, raw)

	st.WriteUint64(node+0x40, 0xcafe0000) // ustAddress, read only when UST set

	desc := target.Describe(st)
	ctx := layout.New(st)
	return st, desc, ctx
}

func TestWalkUSTReadsUstAddressAndShiftedUserOffset(t *testing.T) {
	st, desc, ctx := buildVallocFixture(t, uint32(target.FlagUST), 0x40, 8192)

	records, err := Walk(st, heap, testKey, desc, ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, uint64(node), rec.Address)
	require.Equal(t, uint64(8192), rec.Size)
	require.Equal(t, uint64(0xcafe0000), rec.USTAddress)
	require.Equal(t, uint64(8192-0x40), rec.UserSize)
	require.Equal(t, uint64(node+0x60), rec.UserAddress)
}

func TestWalkNoUSTLeavesUstAddressZero(t *testing.T) {
	st, desc, ctx := buildVallocFixture(t, 0, 0x40, 8192)

	records, err := Walk(st, heap, testKey, desc, ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, uint64(0), rec.USTAddress)
	require.Equal(t, uint64(node+0x40), rec.UserAddress)
}

func TestWalkRejectsExtraEqualToSize(t *testing.T) {
	st, desc, ctx := buildVallocFixture(t, 0, 0x40, 0x40)

	_, err := Walk(st, heap, testKey, desc, ctx)
	require.Error(t, err)
}

func TestWalkEmptyListReturnsNoRecords(t *testing.T) {
	st := synthetic.New(true)
	st.DefineField("ntdll!_HEAP", "VirtualAllocdBlocks", 0x30, 8)
	st.WritePointer(head, head) // empty list: head points to itself

	desc := target.Describe(st)
	ctx := layout.New(st)

	records, err := Walk(st, heap, testKey, desc, ctx)
	require.NoError(t, err)
	require.Nil(t, records)
}
