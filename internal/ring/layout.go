// Package ring is the bit-exact data contract living inside a shared
// region: the control header, the VBLK request ring, and the VTTY
// byte rings. It holds no behavior beyond marshaling and the small
// arithmetic (masking, wraparound) the layout requires — everything
// here operates on a caller-supplied []byte view of the mapping, the
// same way iouringfs's sharedBuffer or the ublk uapi structs treat a
// shared mapping as a typed window rather than owning memory itself.
//
// All offsets below are fixed per the wire contract; changing any one
// of them is a protocol break, not a refactor.
package ring

import "unsafe"

// Page and Sector are the two fixed units the layout is expressed in.
const (
	PageSize   = 4096
	SectorSize = 512
)

// Fixed zone offsets within a mapped region. The VBLK data arena and
// VTTY rings only need to exist when
// the caller's map_shared(pages) request is large enough to cover
// them; operations that touch a zone bounds-check the mapping size
// against that zone's offset+size before touching it (see
// region.Region.Bounds).
const (
	HeaderOff     = 0x00000
	VBLKCtrlOff   = 0x01000
	VBLKSlotsOff  = 0x01010
	VBLKArenaOff  = 0x04000
	VTTYTxOff     = 0x40000
	VTTYRxOff     = 0x50000
	VBLKSlotSize  = 32
	VBLKStride    = 128 * 1024
	DefaultVBLKN  = 8 // cap installed by map_shared
	VTTYDefaultN  = 64 * 1024
	VTTYHeaderLen = 16
)

// VBLK request/completion kinds carried in a VBLK slot.
type Op uint8

const (
	OpRead  Op = 0
	OpWrite Op = 1
)

// SlotStatus is the completion status a worker writes into a VBLK
// slot. All five are defined; ENOSPC and ETIME are never produced by
// this implementation (no quota accounting, no internal timeouts),
// but are kept as named values since the wire contract reserves them.
type SlotStatus uint8

const (
	StatusPending SlotStatus = 0
	StatusOK      SlotStatus = 1
	StatusEINVAL  SlotStatus = 2
	StatusEIO     SlotStatus = 3
	StatusENOSPC  SlotStatus = 4
	StatusETIME   SlotStatus = 5
)

// Header mirrors the 24-byte control/tick/ping header at offset 0.
// Field order and widths are pinned by the original driver's
// RING_HEADER (original_source/driver_c/mem.c).
type Header struct {
	Ver       uint32
	Flags     uint32
	TickCount uint64
	PingReq   uint32
	PingResp  uint32
}

const HeaderSize = 4 + 4 + 8 + 4 + 4 // 24 bytes, no implicit padding

// VBLKCtrl mirrors the 16-byte VBLK ring control block at 0x01000.
type VBLKCtrl struct {
	Prod     uint32
	Cons     uint32
	Cap      uint32
	SlotSize uint32
}

const VBLKCtrlSize = 16

// Slot mirrors one 32-byte VBLK slot. The struct reproduces the
// original VBLK_SLOT's natural C alignment (4 padding bytes ahead of
// Lba) explicitly, rather than relying on Go's own struct layout
// rules, since SlotAt aliases this struct directly onto the mapped
// region's bytes.
type Slot struct {
	ID      uint64
	Op      Op
	Status  SlotStatus
	Rsvd    uint16
	_       uint32 // alignment pad, mirrors original VBLK_SLOT layout
	Lba     uint64
	Len     uint32
	DataOff uint32
}

// VBLKArenaEnd returns the exclusive end offset of the data arena for
// a ring with the given slot capacity, assuming the full per-slot
// stride. Capacity planning note: with the default cap=8 and the
// the layout's 128KiB stride, this arena (1MiB) extends well past the fixed
// VTTYTxOff (256KiB) the layout table also names. The original driver
// never reconciles this either; a caller that needs both a full VBLK
// arena and the VTTY rings live in the same mapping must size its
// map_shared(pages) request so the zones it actually uses don't
// overlap — this package enforces per-zone bounds at access time
// (region.Region.Bounds) but does not itself prevent overlapping
// zone placement, matching the wire contract's fixed-offset design.
func VBLKArenaEnd(cap uint32) int64 {
	return VBLKArenaOff + int64(cap)*VBLKStride
}

// VTTYRingHeader mirrors the 16-byte head/tail/cap/_pad prefix the
// original VTTY_RING carries ahead of its byte buffer (vtty.c). The
// buffer itself is not part of this struct; it is the remainder of
// the mapped zone starting at VTTYTxOff+VTTYHeaderLen /
// VTTYRxOff+VTTYHeaderLen, sized by Cap.
type VTTYRingHeader struct {
	Head uint32
	Tail uint32
	Cap  uint32
	_    uint32 // explicit pad, mirrors original VTTY_RING layout
}

// Compile-time layout pins, in the style of the ublk uapi structs:
// a mismatch here is a build break, not a runtime surprise.
var (
	_ [HeaderSize]byte    = [unsafe.Sizeof(Header{})]byte{}
	_ [VBLKCtrlSize]byte  = [unsafe.Sizeof(VBLKCtrl{})]byte{}
	_ [VBLKSlotSize]byte  = [unsafe.Sizeof(Slot{})]byte{}
	_ [VTTYHeaderLen]byte = [unsafe.Sizeof(VTTYRingHeader{})]byte{}
)
