package ioctl

import (
	"context"
	"sync"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/control"
	"github.com/cohost-project/cohost/internal/region"
	"github.com/cohost-project/cohost/internal/vblk"
	"github.com/cohost-project/cohost/internal/vtty"
)

// Connection is one open handle: its own shared-memory region and
// state machine, layered over the process-wide VBLK engine (the BFM
// and its worker pool are shared across every connection, the way a
// single backing file and a single system worker queue served every
// handle in the original driver). closeCtx/closeCancel and wg track
// VBLK submissions this connection has queued, so Close can cancel
// whatever is still outstanding instead of abandoning it.
type Connection struct {
	region *region.Region
	engine *vblk.Engine
	state  stateBox

	closeCtx    context.Context
	closeCancel context.CancelFunc
	wg          sync.WaitGroup
}

// NewConnection opens a connection against a shared VBLK engine. Each
// call to NewConnection is the Go analogue of CoLinuxCreate: it starts
// in StateOpened with no mapping installed.
func NewConnection(engine *vblk.Engine) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{region: region.New(), engine: engine, closeCtx: ctx, closeCancel: cancel}
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() State { return c.state.load() }

func (c *Connection) requireOpenOrMapped() error {
	switch c.state.load() {
	case StateClosing, StateClosed:
		return cohosterr.ErrInvalidHandle
	default:
		return nil
	}
}

func (c *Connection) requireMapped() error {
	if c.state.load() != StateMapped {
		return cohosterr.ErrDeviceNotReady
	}
	return nil
}

// MapShared installs the connection's shared region. A second call on
// an already-mapped connection is rejected with DeviceNotReady: first
// map wins.
func (c *Connection) MapShared(pages int) (region.MapInfo, error) {
	if err := c.requireOpenOrMapped(); err != nil {
		return region.MapInfo{}, err
	}
	info, err := c.region.MapShared(pages)
	if err != nil {
		return region.MapInfo{}, err
	}
	c.state.cas(StateOpened, StateMapped)
	return info, nil
}

// RunTick advances the control channel. Requires a successful prior
// MapShared.
func (c *Connection) RunTick() (control.TickResult, error) {
	if err := c.requireMapped(); err != nil {
		return control.TickResult{}, err
	}
	return control.RunTick(c.region)
}

// VBLKSubmitRaw decodes a buffered-submit wire request (op, lba, len,
// and for writes the trailing payload) and queues it on the shared
// engine, returning the completion channel. VBLK operations do not
// require a mapped region — the original driver's vblk handlers never
// touch the shared mapping either, only the backing file.
//
// The request is tracked against the connection's own lifetime: if
// Close runs before the engine delivers a completion, the request's
// context is canceled so the submission doesn't outlive its handle.
func (c *Connection) VBLKSubmitRaw(ctx context.Context, raw []byte) (<-chan vblk.Completion, error) {
	if err := c.requireOpenOrMapped(); err != nil {
		return nil, err
	}
	op, lba, length, payload, err := decodeSubmitHeader(raw)
	if err != nil {
		return nil, err
	}

	submitCtx, cancel := context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		select {
		case <-c.closeCtx.Done():
			cancel()
		case <-submitCtx.Done():
		}
	}()

	ch, err := c.engine.Submit(submitCtx, vblk.Request{Op: op, LBA: lba, Len: length, Payload: payload})
	if err != nil {
		cancel()
		c.wg.Done()
		return nil, err
	}

	out := make(chan vblk.Completion, 1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		comp := <-ch
		out <- comp
		close(out)
	}()
	return out, nil
}

// VBLKReadDirect services a direct (METHOD_OUT_DIRECT-equivalent)
// read straight into dst.
func (c *Connection) VBLKReadDirect(dst []byte, lba uint64) (int, error) {
	if err := c.requireOpenOrMapped(); err != nil {
		return 0, err
	}
	return c.engine.ReadDirect(dst, lba)
}

// VBLKWriteDirect services a direct (METHOD_IN_DIRECT-equivalent)
// write straight from src.
func (c *Connection) VBLKWriteDirect(src []byte, lba uint64) (int, error) {
	if err := c.requireOpenOrMapped(); err != nil {
		return 0, err
	}
	return c.engine.WriteDirect(src, lba)
}

// VTTYPush writes into the TX ring. Requires a mapped region, since
// the ring itself lives in the shared mapping.
func (c *Connection) VTTYPush(data []byte) (int, error) {
	if err := c.requireMapped(); err != nil {
		return 0, err
	}
	return vtty.Push(c.region, data)
}

// VTTYPull reads from the RX ring.
func (c *Connection) VTTYPull(dst []byte) (int, error) {
	if err := c.requireMapped(); err != nil {
		return 0, err
	}
	return vtty.Pull(c.region, dst)
}

// Close transitions the connection through CLOSING to CLOSED,
// cancels any VBLK submissions still outstanding on this connection
// and waits for them to unwind, and releases its shared region. Close
// is idempotent.
func (c *Connection) Close() error {
	prev := c.state.load()
	if prev == StateClosed {
		return nil
	}
	c.state.store(StateClosing)
	c.closeCancel()
	c.wg.Wait()
	err := c.region.Unmap()
	c.state.store(StateClosed)
	return err
}

// Dispatch routes a single opcode to its handler using the wire
// encoding each operation defines, the byte-level analogue of
// CoLinuxDeviceControl's IOCTL switch. An opcode outside the closed
// set in Opcode always fails with InvalidDeviceRequest — there is no
// default passthrough.
//
// MAP_SHARED, VTTY_PUSH, and VTTY_PULL map directly onto the typed
// methods above with their wire encode/decode applied. VBLK_SUBMIT
// additionally waits for its single completion so Dispatch can return
// a synchronous result; callers that want the raw channel (e.g. to
// submit several requests concurrently without blocking on each) use
// VBLKSubmitRaw directly.
func (c *Connection) Dispatch(ctx context.Context, op Opcode, in []byte, outLen int) ([]byte, error) {
	switch op {
	case OpMapShared:
		if outLen < mapInfoPayloadLen {
			return nil, cohosterr.ErrBufferTooSmall
		}
		pages, err := decodePageCount(in)
		if err != nil {
			return nil, err
		}
		info, err := c.MapShared(pages)
		if err != nil {
			return nil, err
		}
		return encodeMapInfoPayload(info.UserBase, info.KernelBase, info.Size, info.Ver, info.Flags), nil

	case OpRunTick:
		res, err := c.RunTick()
		if err != nil {
			return nil, err
		}
		out := make([]byte, 12)
		putU64(out[0:8], res.TickCount)
		putU32(out[8:12], res.PingResp)
		return out, nil

	case OpVBLKSubmit:
		ch, err := c.VBLKSubmitRaw(ctx, in)
		if err != nil {
			return nil, err
		}
		comp := <-ch
		out := make([]byte, 2)
		out[0] = byte(comp.Status)
		return out, comp.Err

	case OpVBLKRead:
		lba, length, _, err := decodeRWHeader(in)
		if err != nil {
			return nil, err
		}
		dst := make([]byte, length)
		n, err := c.VBLKReadDirect(dst, lba)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil

	case OpVBLKWrite:
		lba, length, _, err := decodeRWHeader(in)
		if err != nil {
			return nil, err
		}
		if len(in) < rwHeaderLen+int(length) {
			return nil, cohosterr.ErrBufferTooSmall
		}
		payload := in[rwHeaderLen : rwHeaderLen+int(length)]
		n, err := c.VBLKWriteDirect(payload, lba)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		putU32(out, uint32(n))
		return out, nil

	case OpVBLKSetBacking:
		path, err := decodeUTF16Path(in)
		if err != nil {
			return nil, err
		}
		return nil, c.engine.SetBacking(path)

	case OpVTTYPush:
		n, err := c.VTTYPush(in)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		putU32(out, uint32(n))
		return out, nil

	case OpVTTYPull:
		dst := make([]byte, outLen)
		n, err := c.VTTYPull(dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil

	default:
		return nil, cohosterr.ErrInvalidDeviceRequest
	}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
