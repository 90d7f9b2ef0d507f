package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/target/synthetic"
)

func TestParseNeitherFlag32Bit(t *testing.T) {
	st := synthetic.New(false)
	desc := target.Descriptor{Is64Bit: false}
	entry := heapentry.Decoded{Size: 4, ExtendedBlockSignature: 2}

	rec, err := Parse(st, 0x1000, entry, desc)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.USTAddress)
	require.Equal(t, uint64(32), rec.Size)
	require.Equal(t, uint64(0x1000), rec.Address)
	require.Equal(t, uint64(30), rec.UserSize)
	require.Equal(t, uint64(0x1008), rec.UserAddress)
}

func TestParseUSTOnly64Bit(t *testing.T) {
	st := synthetic.New(true)
	address := uint64(0x20000)
	hdr := address + 16
	st.WriteUint64(hdr+0, 0xdeadbeef)  // ustAddress
	st.WriteUint16(hdr+0x1c, 16)       // extra
	desc := target.Descriptor{Is64Bit: true, NtGlobalFlag: target.FlagUST}
	entry := heapentry.Decoded{Size: 4} // size = 4*16 = 64

	rec, err := Parse(st, address, entry, desc)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), rec.USTAddress)
	require.Equal(t, uint64(64), rec.Size)
	require.Equal(t, uint64(48), rec.UserSize)
	require.Equal(t, hdr+0x20, rec.UserAddress)
}

func TestParseHPA32Bit(t *testing.T) {
	st := synthetic.New(false)
	address := uint64(0x3000)
	hdr := address + 8
	st.WriteUint32(hdr+0x18, 0x1234) // ustAddress
	st.WriteUint16(hdr+0x8, 0xfff0)  // userSize
	desc := target.Descriptor{Is64Bit: false, NtGlobalFlag: target.FlagHPA}
	entry := heapentry.Decoded{Size: 0x4000} // size = 0x4000*8 = 0x20000

	rec, err := Parse(st, address, entry, desc)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), rec.USTAddress)
	require.Equal(t, uint64(0x20000), rec.Size)
	require.Equal(t, uint64(0xfff0), rec.UserSize)
	require.Equal(t, hdr+0x20, rec.UserAddress)
}

func TestParseHPADominatesUST(t *testing.T) {
	st := synthetic.New(true)
	address := uint64(0x40000)
	hdr := address + 16
	st.WriteUint64(hdr+0x30, 0x9999) // ustAddress read from the HPA offset
	st.WriteUint16(hdr+0x10, 100)    // userSize
	desc := target.Descriptor{Is64Bit: true, NtGlobalFlag: target.FlagUST | target.FlagHPA}
	entry := heapentry.Decoded{Size: 10} // size = 160

	rec, err := Parse(st, address, entry, desc)
	require.NoError(t, err)
	require.Equal(t, uint64(0x9999), rec.USTAddress)
	require.Equal(t, uint64(100), rec.UserSize)
	require.Equal(t, hdr+0x40, rec.UserAddress)
}

func TestParseUSTFailsWhenExtraExceedsSize(t *testing.T) {
	st := synthetic.New(false)
	address := uint64(0x5000)
	hdr := address + 8
	st.WriteUint16(hdr+0xc, 100) // extra larger than size
	desc := target.Descriptor{Is64Bit: false, NtGlobalFlag: target.FlagUST}
	entry := heapentry.Decoded{Size: 1} // size = 8

	_, err := Parse(st, address, entry, desc)
	require.Error(t, err)
	var sizeErr *SizeInvariantViolatedError
	require.ErrorAs(t, err, &sizeErr)
}

func TestParseUSTAllowsExtraEqualToSize(t *testing.T) {
	st := synthetic.New(false)
	address := uint64(0x6000)
	hdr := address + 8
	st.WriteUint16(hdr+0xc, 8) // extra == size, non-strict bound allows it
	desc := target.Descriptor{Is64Bit: false, NtGlobalFlag: target.FlagUST}
	entry := heapentry.Decoded{Size: 1} // size = 8

	rec, err := Parse(st, address, entry, desc)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.UserSize)
}

func TestParseHPAFailsWhenUserSizeEqualsSize(t *testing.T) {
	st := synthetic.New(false)
	address := uint64(0x7000)
	hdr := address + 8
	st.WriteUint16(hdr+0x8, 8) // userSize == size, strict bound rejects it
	desc := target.Descriptor{Is64Bit: false, NtGlobalFlag: target.FlagHPA}
	entry := heapentry.Decoded{Size: 1} // size = 8

	_, err := Parse(st, address, entry, desc)
	require.Error(t, err)
}
