package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalleeFrameSize(t *testing.T) {
	cases := []struct {
		numParams int
		want      int
	}{
		{0, 40},  // ceil(8/16)*16 + 24 = 16 + 24
		{1, 40},  // ceil(16/16)*16 + 24 = 16 + 24
		{2, 56},  // ceil(24/16)*16 + 24 = 32 + 24
		{3, 56},  // ceil(32/16)*16 + 24 = 32 + 24
	}
	for _, c := range cases {
		require.Equal(t, c.want, CalleeFrameSize(c.numParams), "numParams=%d", c.numParams)
	}
}

func TestMaxCalleeFrameSize(t *testing.T) {
	require.Equal(t, CalleeFrameSize(3), MaxCalleeFrameSize([]int{0, 1, 3, 2}))
}

func TestFrameLayout_Offsets(t *testing.T) {
	f := frameLayout{NumParams: 2, NumLocals: 1}
	require.Equal(t, int64(8), f.ParamOffset(0))
	require.Equal(t, int64(16), f.ParamOffset(1))
	require.Equal(t, int64(24), f.LocalOffset(0))
	require.Equal(t, f.EvalIntBase(), int64(32))
	require.Equal(t, f.TotalSize(), int64(CalleeFrameSize(2)))
}
