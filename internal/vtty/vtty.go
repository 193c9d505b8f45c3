// Package vtty implements the virtual TTY engine: two lock-free
// single-producer/single-consumer byte rings living in the shared
// region, one per direction. The wraparound arithmetic (free/used
// computation, split copy around the buffer's end, one slot always
// held back so head==tail is unambiguous) is carried over field for
// field from vtty_write_ring/vtty_read_ring in
// original_source/driver_c/vtty.c; only the memory-barrier mechanism
// changes, from an explicit KeMemoryBarrier() to Go's sync/atomic.
package vtty

import (
	"sync/atomic"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/region"
	"github.com/cohost-project/cohost/internal/ring"
)

// Push writes data into the TX ring (host-to-guest direction) and
// returns how many bytes it actually accepted — fewer than len(data)
// if the ring doesn't have room, never more, matching
// CoLinuxHandleVttyPush's partial-write behavior.
func Push(r *region.Region, data []byte) (int, error) {
	return write(r, ring.VTTYTxOff, data)
}

// Pull reads from the RX ring (guest-to-host direction) into dst and
// returns how many bytes it copied.
func Pull(r *region.Region, dst []byte) (int, error) {
	return read(r, ring.VTTYRxOff, dst)
}

func ringAt(r *region.Region, zoneOff int) (*ring.VTTYRingHeader, []byte, error) {
	if !r.Mapped() {
		return nil, nil, cohosterr.ErrDeviceNotReady
	}
	if !r.Bounds(zoneOff, ring.VTTYHeaderLen) {
		return nil, nil, cohosterr.ErrInvalidParameter
	}
	view := r.KernelView()
	hdr := ring.VTTYRingHeaderAt(view, zoneOff)

	cap := atomic.LoadUint32(&hdr.Cap)
	if cap == 0 {
		// Eager initialization in region.MapShared covers the common
		// case; this fallback only matters for a mapping that covers
		// the header but was never routed through MapShared's
		// initializer (defensive, mirrors the original's lazy
		// "cap == 0 -> default" init-on-first-use).
		cap = ring.VTTYDefaultN
		atomic.StoreUint32(&hdr.Cap, cap)
	}
	if !r.Bounds(zoneOff, ring.VTTYHeaderLen+int(cap)) {
		return nil, nil, cohosterr.ErrInvalidParameter
	}
	return hdr, ring.VTTYBufAt(view, zoneOff, cap), nil
}

func write(r *region.Region, zoneOff int, src []byte) (int, error) {
	hdr, buf, err := ringAt(r, zoneOff)
	if err != nil {
		return 0, err
	}
	cap := uint32(len(buf))
	head := atomic.LoadUint32(&hdr.Head)
	tail := atomic.LoadUint32(&hdr.Tail)
	used := (head - tail) & (cap - 1)
	free := cap - used - 1
	n := minU32(uint32(len(src)), free)
	if n == 0 {
		return 0, nil
	}
	first := minU32(n, cap-(head&(cap-1)))
	copy(buf[head&(cap-1):], src[:first])
	if n > first {
		copy(buf[0:], src[first:n])
	}
	atomic.StoreUint32(&hdr.Head, (head+n)&(cap-1))
	return int(n), nil
}

func read(r *region.Region, zoneOff int, dst []byte) (int, error) {
	hdr, buf, err := ringAt(r, zoneOff)
	if err != nil {
		return 0, err
	}
	cap := uint32(len(buf))
	head := atomic.LoadUint32(&hdr.Head)
	tail := atomic.LoadUint32(&hdr.Tail)
	used := (head - tail) & (cap - 1)
	n := minU32(uint32(len(dst)), used)
	if n == 0 {
		return 0, nil
	}
	first := minU32(n, cap-(tail&(cap-1)))
	copy(dst[:first], buf[tail&(cap-1):])
	if n > first {
		copy(dst[first:n], buf[0:])
	}
	atomic.StoreUint32(&hdr.Tail, (tail+n)&(cap-1))
	return int(n), nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
