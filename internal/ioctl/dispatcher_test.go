package ioctl

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/ring"
	"github.com/cohost-project/cohost/internal/vblk"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "backing.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 16*ring.SectorSize), 0o644))
	engine := vblk.NewEngine(vblk.NewBacking())
	require.NoError(t, engine.SetBacking(path))
	return NewConnection(engine)
}

func pageCountPayload(pages uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, pages)
	return buf
}

func TestUnknownOpcodeIsInvalidDeviceRequest(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), Opcode(999), nil, 0)
	require.ErrorIs(t, err, cohosterr.ErrInvalidDeviceRequest)
}

func TestMapSharedThenRunTickScenario(t *testing.T) {
	c := newTestConnection(t)
	require.Equal(t, StateOpened, c.State())

	out, err := c.Dispatch(context.Background(), OpMapShared, pageCountPayload(16), mapInfoPayloadLen)
	require.NoError(t, err)
	require.Len(t, out, 40)
	require.Equal(t, StateMapped, c.State())

	out, err = c.Dispatch(context.Background(), OpRunTick, nil, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, binary.LittleEndian.Uint64(out[0:8]))
}

func TestSecondMapSharedRejected(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), OpMapShared, pageCountPayload(16), mapInfoPayloadLen)
	require.NoError(t, err)
	_, err = c.Dispatch(context.Background(), OpMapShared, pageCountPayload(16), mapInfoPayloadLen)
	require.ErrorIs(t, err, cohosterr.ErrDeviceNotReady)
}

func TestMapSharedRejectsOutLenTooSmall(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), OpMapShared, pageCountPayload(16), mapInfoPayloadLen-1)
	require.ErrorIs(t, err, cohosterr.ErrBufferTooSmall)
	require.Equal(t, StateOpened, c.State(), "a rejected map must not transition state")
}

func TestRunTickBeforeMapIsDeviceNotReady(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), OpRunTick, nil, 0)
	require.ErrorIs(t, err, cohosterr.ErrDeviceNotReady)
}

func TestVBLKWriteThenReadRoundTripsThroughDispatch(t *testing.T) {
	c := newTestConnection(t)

	payload := make([]byte, ring.SectorSize)
	payload[0] = 0x7A
	hdr := make([]byte, rwHeaderLen)
	binary.LittleEndian.PutUint64(hdr[0:8], 2)
	binary.LittleEndian.PutUint32(hdr[8:12], ring.SectorSize)
	writeReq := append(hdr, payload...)

	_, err := c.Dispatch(context.Background(), OpVBLKWrite, writeReq, 0)
	require.NoError(t, err)

	readReq := make([]byte, rwHeaderLen)
	binary.LittleEndian.PutUint64(readReq[0:8], 2)
	binary.LittleEndian.PutUint32(readReq[8:12], ring.SectorSize)
	out, err := c.Dispatch(context.Background(), OpVBLKRead, readReq, 0)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestVTTYPullDoesNotSeeOwnPushAfterMap(t *testing.T) {
	c := newTestConnection(t)
	pages := (ring.VTTYRxOff + ring.VTTYHeaderLen + ring.VTTYDefaultN) / ring.PageSize
	_, err := c.Dispatch(context.Background(), OpMapShared, pageCountPayload(uint32(pages+1)), mapInfoPayloadLen)
	require.NoError(t, err)

	_, err = c.Dispatch(context.Background(), OpVTTYPush, []byte("console line"), 0)
	require.NoError(t, err)

	// Push went to TX; RX is empty from this side, so pull sees nothing
	// yet. That's expected: this connection plays the host role, and
	// TX is host-to-guest.
	out, err := c.Dispatch(context.Background(), OpVTTYPull, nil, 16)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestVTTYPushBeforeMapIsDeviceNotReady(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), OpVTTYPush, []byte("x"), 0)
	require.ErrorIs(t, err, cohosterr.ErrDeviceNotReady)
}

func TestCloseIsIdempotentAndRejectsFurtherUse(t *testing.T) {
	c := newTestConnection(t)
	_, err := c.Dispatch(context.Background(), OpMapShared, pageCountPayload(16), mapInfoPayloadLen)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, StateClosed, c.State())

	_, err = c.Dispatch(context.Background(), OpRunTick, nil, 0)
	require.ErrorIs(t, err, cohosterr.ErrDeviceNotReady)
}

func TestVBLKSetBackingThenSubmitScenario(t *testing.T) {
	c := newTestConnection(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "new.img")
	require.NoError(t, os.WriteFile(path, make([]byte, ring.SectorSize), 0o644))

	_, err := c.Dispatch(context.Background(), OpVBLKSetBacking, encodeUTF16Path(path), 0)
	require.NoError(t, err)

	payload := make([]byte, ring.SectorSize)
	req := encodeSubmitHeader(ring.OpWrite, 0, ring.SectorSize, payload)
	out, err := c.Dispatch(context.Background(), OpVBLKSubmit, req, 0)
	require.NoError(t, err)
	require.Equal(t, byte(ring.StatusOK), out[0])
}
