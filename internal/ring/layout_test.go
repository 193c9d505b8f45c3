package ring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestStructSizesMatchWireLayout(t *testing.T) {
	require.EqualValues(t, HeaderSize, unsafe.Sizeof(Header{}))
	require.EqualValues(t, VBLKCtrlSize, unsafe.Sizeof(VBLKCtrl{}))
	require.EqualValues(t, VBLKSlotSize, unsafe.Sizeof(Slot{}))
	require.EqualValues(t, VTTYHeaderLen, unsafe.Sizeof(VTTYRingHeader{}))
}

func TestSlotAtIndexesNaturalStride(t *testing.T) {
	mapping := make([]byte, VBLKSlotsOff+4*VBLKSlotSize)
	for i := uint32(0); i < 4; i++ {
		SlotAt(mapping, i).ID = uint64(i) + 1
	}
	for i := uint32(0); i < 4; i++ {
		require.Equal(t, uint64(i)+1, SlotAt(mapping, i).ID)
	}
}

func TestVTTYBufAtIsDisjointFromHeader(t *testing.T) {
	mapping := make([]byte, VTTYTxOff+VTTYHeaderLen+VTTYDefaultN)
	hdr := VTTYRingHeaderAt(mapping, VTTYTxOff)
	hdr.Cap = VTTYDefaultN
	buf := VTTYBufAt(mapping, VTTYTxOff, hdr.Cap)
	require.Len(t, buf, VTTYDefaultN)
	buf[0] = 0xAB
	require.EqualValues(t, 0, hdr.Head, "writing the data buffer must not disturb the header")
}

func TestVBLKArenaEndMatchesStride(t *testing.T) {
	require.EqualValues(t, VBLKArenaOff+8*VBLKStride, VBLKArenaEnd(8))
}
