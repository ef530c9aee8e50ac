package leb128

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeUint32(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16256, 624485, math.MaxUint32} {
		enc := EncodeUint32(v)
		got, n, err := DecodeUint32(bytes.NewReader(enc))
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeInt32(t *testing.T) {
	for _, v := range []int32{0, 1, -1, -4, 16256, -16256, 624485, -624485, math.MaxInt32, math.MinInt32} {
		enc := EncodeInt32(v)
		got, n, err := DecodeInt32(bytes.NewReader(enc))
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeInt64(t *testing.T) {
	for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 1 << 40, -(1 << 40)} {
		enc := EncodeInt64(v)
		got, n, err := DecodeInt64(bytes.NewReader(enc))
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestEncodeDecodeUint64(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, math.MaxUint32, math.MaxUint64} {
		enc := EncodeUint64(v)
		got, n, err := DecodeUint64(bytes.NewReader(enc))
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, uint64(len(enc)), n)
	}
}

func TestDecodeUint32_truncated(t *testing.T) {
	_, _, err := DecodeUint32(bytes.NewReader([]byte{0x80, 0x80}))
	require.Error(t, err)
}
