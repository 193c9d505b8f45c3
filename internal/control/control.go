// Package control implements the control channel: the single
// run_tick operation that advances the shared header's tick counter
// and echoes the guest's ping request back as a ping response. It is
// deliberately the thinnest module in the tree — grounded directly on
// CoLinuxHandleRunTick in original_source/driver_c/mem.c, which does
// nothing but increment a counter and copy one field under a memory
// barrier.
package control

import (
	"sync/atomic"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/region"
	"github.com/cohost-project/cohost/internal/ring"
)

// TickResult mirrors what RunTick reports back to the caller: the new
// tick count and the ping value now visible to the guest.
type TickResult struct {
	TickCount uint64
	PingResp  uint32
}

// RunTick increments the header's tick_count and sets ping_resp to
// the current ping_req, using atomic operations in place of the
// original's explicit KeMemoryBarrier: both give every other viewer
// of the mapping a consistent, non-torn read once RunTick returns.
//
// RunTick fails with InvalidHandle if r is not mapped, and with
// DeviceNotReady if the mapping is too small to hold the header.
func RunTick(r *region.Region) (TickResult, error) {
	if !r.Mapped() {
		return TickResult{}, cohosterr.ErrInvalidHandle
	}
	view := r.KernelView()
	if !r.Bounds(ring.HeaderOff, ring.HeaderSize) {
		return TickResult{}, cohosterr.ErrDeviceNotReady
	}
	hdr := ring.HeaderAt(view)

	newTick := atomic.AddUint64(&hdr.TickCount, 1)
	req := atomic.LoadUint32(&hdr.PingReq)
	atomic.StoreUint32(&hdr.PingResp, req)

	return TickResult{TickCount: newTick, PingResp: req}, nil
}
