package bytestream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader_Scalars(t *testing.T) {
	r := New([]byte{0x2a, 0x01, 0x00, 0x00, 0x00, 0x03, 'f', 'o', 'o'})
	b, err := r.Byte()
	require.NoError(t, err)
	require.Equal(t, byte(0x2a), b)

	u, err := r.Uint32LE()
	require.NoError(t, err)
	require.Equal(t, uint32(1), u)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "foo", s)
	require.Equal(t, 0, r.Len())
}

func TestReader_Varints(t *testing.T) {
	r := New([]byte{0xe5, 0x8e, 0x26, 0x7f})
	u, err := r.VarUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(624485), u)

	i, err := r.VarInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-1), i)
}

func TestReader_TruncatedErrors(t *testing.T) {
	r := New([]byte{0x01})
	_, err := r.Uint32LE()
	require.Error(t, err)

	r2 := New(nil)
	_, err = r2.Byte()
	require.Error(t, err)
}
