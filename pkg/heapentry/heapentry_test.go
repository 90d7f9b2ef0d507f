package heapentry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode32EncodeRoundTrip(t *testing.T) {
	key := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	want := Decoded{Size: 4, Flags: 0x01, SmallTagIndex: 0x02, PreviousSize: 3, SegmentOffset: 1, ExtendedBlockSignature: 0}
	// SmallTagIndex must make the checksum lane XOR to zero: byte0^byte1^byte2^byte3==0.
	// Size=4 -> bytes {0x04,0x00}; choose Flags/SmallTagIndex so the XOR works out.
	want.Flags = 0x00
	want.SmallTagIndex = 0x04

	raw, err := Encode32(want, key)
	require.NoError(t, err)

	got, err := Decode32(0x1000, raw, key)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecode32ChecksumFailure(t *testing.T) {
	key := make([]byte, Size32)
	bad := Decoded{Size: 4, Flags: 0x01, SmallTagIndex: 0x02}
	raw, err := Encode32(bad, key)
	require.NoError(t, err)

	_, err = Decode32(0x2000, raw, key)
	require.Error(t, err)
	var checksumErr *DecodeChecksumFailedError
	require.ErrorAs(t, err, &checksumErr)
	require.Equal(t, uint64(0x2000), checksumErr.Address)
}

func TestDecode64EncodeRoundTrip(t *testing.T) {
	key := make([]byte, Size64)
	for i := range key {
		key[i] = byte(i + 1)
	}
	want := Decoded{Size: 16, Flags: 0x00, SmallTagIndex: 0x10, PreviousSize: 5, SegmentOffset: 2, ExtendedBlockSignature: 0x88}

	raw, err := Encode64(want, key)
	require.NoError(t, err)

	got, err := Decode64(0x3000, raw, key)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode32(0, make([]byte, 4), make([]byte, Size32))
	require.Error(t, err)

	_, err = Decode64(0, make([]byte, Size64), make([]byte, 4))
	require.Error(t, err)
}

func TestDecodeDispatchesByBitness(t *testing.T) {
	key32 := make([]byte, Size32)
	d32 := Decoded{Size: 2, SmallTagIndex: 2}
	raw32, err := Encode32(d32, key32)
	require.NoError(t, err)
	got, err := Decode(false, 0, raw32, key32)
	require.NoError(t, err)
	require.Equal(t, d32, got)

	key64 := make([]byte, Size64)
	d64 := Decoded{Size: 2, SmallTagIndex: 2}
	raw64, err := Encode64(d64, key64)
	require.NoError(t, err)
	got, err = Decode(true, 0, raw64, key64)
	require.NoError(t, err)
	require.Equal(t, d64, got)
}
