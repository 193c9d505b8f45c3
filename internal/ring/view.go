package ring

import "unsafe"

// Bytes exposes a Header's raw bytes, the same direct unsafe-pointer
// cast biscuit's stat.Stat_t.Bytes uses to get a []byte view of a
// fixed-layout struct without a serialization pass.
func (h *Header) Bytes() []byte {
	const sz = unsafe.Sizeof(Header{})
	return (*[sz]byte)(unsafe.Pointer(h))[:]
}

// HeaderAt returns a *Header aliasing the mapped region's bytes at
// HeaderOff. The caller's mapping must be at least HeaderOff+HeaderSize
// bytes; callers check this via region.Region.Bounds before calling.
func HeaderAt(mapping []byte) *Header {
	return (*Header)(unsafe.Pointer(&mapping[HeaderOff]))
}

// Bytes exposes a VBLKCtrl's raw bytes.
func (c *VBLKCtrl) Bytes() []byte {
	const sz = unsafe.Sizeof(VBLKCtrl{})
	return (*[sz]byte)(unsafe.Pointer(c))[:]
}

// VBLKCtrlAt returns a *VBLKCtrl aliasing the mapped region's bytes at
// VBLKCtrlOff.
func VBLKCtrlAt(mapping []byte) *VBLKCtrl {
	return (*VBLKCtrl)(unsafe.Pointer(&mapping[VBLKCtrlOff]))
}

// Bytes exposes a Slot's raw bytes.
func (s *Slot) Bytes() []byte {
	const sz = unsafe.Sizeof(Slot{})
	return (*[sz]byte)(unsafe.Pointer(s))[:]
}

// SlotAt returns a *Slot aliasing the i'th slot in the mapped region's
// slot array. The caller is responsible for bounds-checking i against
// the ring's cap before calling.
func SlotAt(mapping []byte, i uint32) *Slot {
	off := VBLKSlotsOff + int(i)*VBLKSlotSize
	return (*Slot)(unsafe.Pointer(&mapping[off]))
}

// VTTYRingHeaderAt returns a *VTTYRingHeader aliasing the mapped
// region's bytes at the given zone offset (VTTYTxOff or VTTYRxOff).
func VTTYRingHeaderAt(mapping []byte, zoneOff int) *VTTYRingHeader {
	return (*VTTYRingHeader)(unsafe.Pointer(&mapping[zoneOff]))
}

// VTTYBufAt returns the byte-ring buffer that follows a VTTY ring's
// header, sized cap bytes starting at zoneOff+VTTYHeaderLen.
func VTTYBufAt(mapping []byte, zoneOff int, cap uint32) []byte {
	start := zoneOff + VTTYHeaderLen
	return mapping[start : start+int(cap) : start+int(cap)]
}
