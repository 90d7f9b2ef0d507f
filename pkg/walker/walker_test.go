package walker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/target/synthetic"
)

func TestHeapAddresses32Bit(t *testing.T) {
	const peb = 0x1000
	const processHeaps = 0x2000

	st := synthetic.New(false)
	st.WriteUint32(peb+numberOfHeapsOffset32, 2)
	st.WriteUint32(peb+processHeapsOffset32, processHeaps)
	st.WriteUint32(processHeaps+4*0, 0x3000)
	st.WriteUint32(processHeaps+4*1, 0x4000)

	desc := target.Describe(st)
	heaps, err := heapAddresses(st, peb, desc)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x3000, 0x4000}, heaps)
}

func TestHeapAddresses64Bit(t *testing.T) {
	const peb = 0x1000
	const processHeaps = 0x2000

	st := synthetic.New(true)
	st.DefineField("ntdll!_PEB", "NumberOfHeaps", 0x88, 4)
	st.DefineField("ntdll!_PEB", "ProcessHeaps", 0x90, 8)
	st.WriteUint32(peb+0x88, 1)
	st.WritePointer(peb+0x90, processHeaps)
	st.WritePointer(processHeaps+8*0, 0x5000)

	desc := target.Describe(st)
	heaps, err := heapAddresses(st, peb, desc)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x5000}, heaps)
}

type recordingConsumer struct {
	started  []uint64
	finished []uint64
}

func (c *recordingConsumer) StartHeap(heap uint64)                              { c.started = append(c.started, heap) }
func (c *recordingConsumer) StartSegment(uint64, uint64)                        {}
func (c *recordingConsumer) Register(uint64, uint64, uint64, uint64, uint64)    {}
func (c *recordingConsumer) FinishSegment(uint64, uint64)                       {}
func (c *recordingConsumer) FinishHeap(heap uint64)                             { c.finished = append(c.finished, heap) }

func TestWalkDispatchesStartAndFinishPerHeap(t *testing.T) {
	const peb = 0x1000
	const processHeaps = 0x2000
	// A misaligned heap address (low 16 bits nonzero) skips the backend
	// segment loop entirely, letting this test exercise only the
	// per-heap dispatch without building a full segment fixture.
	const heap = 0x30001

	st := synthetic.New(false).WithPEB(peb)
	st.WriteUint32(peb+numberOfHeapsOffset32, 1)
	st.WriteUint32(peb+processHeapsOffset32, processHeaps)
	st.WriteUint32(processHeaps, heap)

	// fixed32's pre-Win8 offsets: FrontEndHeapType at 0xda, Encoding at
	// 0x50, VirtualAllocdBlocks at 0xa0. No DefineField calls are needed
	// here: on a 32-bit target these come from the literal table, not
	// the synthetic symbol store.
	st.WriteBytes(heap+0xda, []byte{0x00})
	st.WriteBytes(heap+0x50, make([]byte, 8))
	st.WritePointer(heap+0xa0, heap+0xa0)

	c := &recordingConsumer{}
	err := Walk(st, c)
	require.NoError(t, err)
	require.Equal(t, []uint64{heap}, c.started)
	require.Equal(t, []uint64{heap}, c.finished)
}
