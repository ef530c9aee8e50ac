package branchemit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stencilc/stencilc/internal/coderegion"
)

func TestEmitJumpAndPatch(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	_, _, err = region.Append([]byte{0x90, 0x90}) // two NOPs ahead of the jump
	require.NoError(t, err)

	patchOffset, err := EmitJump(region, CondAlways)
	require.NoError(t, err)

	target := len(region.Bytes())
	_, _, err = region.Append([]byte{0x90})
	require.NoError(t, err)

	require.NoError(t, PatchRel32(region, patchOffset, target))

	code := region.Bytes()
	require.Equal(t, byte(0xE9), code[2])
	disp := int32(uint32(code[3]) | uint32(code[4])<<8 | uint32(code[5])<<16 | uint32(code[6])<<24)
	require.Equal(t, int32(target-(patchOffset+4)), disp)
}

func TestBlockScopeResolvesForwardBranches(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	scope := NewBlockScope(region, false)

	off1, err := EmitJump(region, CondNZ)
	require.NoError(t, err)
	scope.AddForwardPatch(off1)

	off2, err := EmitJump(region, CondAlways)
	require.NoError(t, err)
	scope.AddForwardPatch(off2)

	endOffset := len(region.Bytes())
	require.NoError(t, scope.Resolve(region, endOffset))

	code := region.Bytes()
	disp1 := int32(uint32(code[off1]) | uint32(code[off1+1])<<8 | uint32(code[off1+2])<<16 | uint32(code[off1+3])<<24)
	require.Equal(t, int32(endOffset-(off1+4)), disp1)
}

func TestEmitTrapAndSyscall(t *testing.T) {
	region, err := coderegion.New(0)
	require.NoError(t, err)
	defer region.Close()

	require.NoError(t, EmitTrap(region))
	require.NoError(t, EmitSyscall(region))
	require.Equal(t, []byte{0x0F, 0x0B, 0x0F, 0x05}, region.Bytes())
}
