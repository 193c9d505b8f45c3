// Package region implements the shared-memory session a connection
// gets from map_shared: a single physical allocation addressable
// through two independent views, the way the original driver hands
// the guest a user-space mapping and keeps its own kernel-space
// mapping of the same pages.
//
// Go has one address space per process, so there is no literal
// kernel/user split to reproduce. This package emulates it with an
// anonymous memfd and two independent mmap calls onto that fd: both
// views alias the same physical pages, so a write through one is
// visible through the other, which is the only property the rest of
// this tree (and its tests) actually depend on. The
// double-mmap technique itself is the one paultag/go-diskring also
// uses to get a wraparound-safe view of a ring; the pattern of
// mmap+madvise(MADV_DONTDUMP) on a raw fd follows
// hanwen-go-fuse/vhostuser/deviceregion.go.
package region

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/ring"
)

// unsafePointerOf returns the address of a non-empty byte slice's
// backing array, used only to report UserBase/KernelBase in MapInfo;
// both addresses are local-process mmaps, so exposing them carries
// none of the cross-process risk the original kernel/user split did.
func unsafePointerOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// MapInfo holds the five fields of the map_shared completion payload
// (original_source/driver_c/mem.c's MAP_INFO_OUT). They occupy 32
// bytes; the 40-byte wire payload carries them first and leaves its
// last 8 bytes zero.
type MapInfo struct {
	UserBase   uint64
	KernelBase uint64
	Size       uint64
	Ver        uint32
	Flags      uint32
}

const MapInfoSize = 8 + 8 + 8 + 4 + 4 // 32 bytes

const wireVersion = 1

// Region is one connection's shared memory session: a single memfd
// mapped twice. KernelView and the unexported user view are
// independent []byte windows over the same physical pages; either
// could reach the fixed zones in internal/ring, but internal/control
// and internal/vtty consistently use KernelView since that's the view
// this process, playing the kernel's role, actually owns.
type Region struct {
	mu     sync.Mutex
	fd     int
	size   int64
	kernel []byte
	user   []byte
	mapped bool
}

// New returns an unmapped Region. MapShared must be called before any
// other method is used.
func New() *Region { return &Region{fd: -1} }

// MapShared allocates a pages*PageSize shared allocation and installs
// the two aliased views, initializing the control header and VBLK
// ring control block. Calling MapShared a second time on an already
// mapped Region fails with DeviceNotReady: first map wins.
func (r *Region) MapShared(pages int) (MapInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mapped {
		return MapInfo{}, cohosterr.ErrDeviceNotReady
	}
	if pages <= 0 {
		return MapInfo{}, cohosterr.ErrInvalidParameter
	}
	size := int64(pages) * ring.PageSize
	if size < ring.HeaderSize {
		return MapInfo{}, cohosterr.ErrInvalidParameter
	}

	fd, err := unix.MemfdCreate("cohost-region", 0)
	if err != nil {
		return MapInfo{}, cohosterr.Wrap(cohosterr.InsufficientResources, err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return MapInfo{}, cohosterr.Wrap(cohosterr.InsufficientResources, err)
	}

	kernel, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return MapInfo{}, cohosterr.Wrap(cohosterr.InsufficientResources, err)
	}
	user, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(kernel)
		unix.Close(fd)
		return MapInfo{}, cohosterr.Wrap(cohosterr.InsufficientResources, err)
	}
	unix.Madvise(kernel, unix.MADV_DONTDUMP)
	unix.Madvise(user, unix.MADV_DONTDUMP)

	hdr := ring.HeaderAt(kernel)
	*hdr = ring.Header{Ver: wireVersion}
	if size >= ring.VBLKCtrlOff+ring.VBLKCtrlSize {
		ctrl := ring.VBLKCtrlAt(kernel)
		*ctrl = ring.VBLKCtrl{Cap: ring.DefaultVBLKN, SlotSize: ring.VBLKSlotSize}
		nslots := int(ring.DefaultVBLKN)
		if slotsEnd := ring.VBLKSlotsOff + nslots*ring.VBLKSlotSize; int(size) >= slotsEnd {
			for i := uint32(0); i < ring.DefaultVBLKN; i++ {
				*ring.SlotAt(kernel, i) = ring.Slot{}
			}
		}
	}
	// Eager VTTY ring initialization: the original driver lazily sets
	// cap on first push/pull (vtty.c: "if (tx->cap == 0) tx->cap =
	// COLX_VTTY_CAP"). This repo initializes both rings' cap up front
	// whenever the mapping is large enough to hold them, so a caller
	// that inspects the region before its first push/pull still sees a
	// ready ring rather than an all-zero header. internal/vtty still
	// carries the lazy-init fallback for a mapping that reaches the
	// header through a path other than MapShared.
	if size >= ring.VTTYTxOff+ring.VTTYHeaderLen {
		*ring.VTTYRingHeaderAt(kernel, ring.VTTYTxOff) = ring.VTTYRingHeader{Cap: ring.VTTYDefaultN}
	}
	if size >= ring.VTTYRxOff+ring.VTTYHeaderLen {
		*ring.VTTYRingHeaderAt(kernel, ring.VTTYRxOff) = ring.VTTYRingHeader{Cap: ring.VTTYDefaultN}
	}

	r.fd = fd
	r.size = size
	r.kernel = kernel
	r.user = user
	r.mapped = true

	return MapInfo{
		UserBase:   uint64(uintptr(unsafePointerOf(user))),
		KernelBase: uint64(uintptr(unsafePointerOf(kernel))),
		Size:       uint64(size),
		Ver:        wireVersion,
		Flags:      0,
	}, nil
}

// KernelView returns the kernel-side []byte view of the mapping, or
// nil if the region is not mapped.
func (r *Region) KernelView() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kernel
}

// Mapped reports whether MapShared has completed successfully and
// Unmap has not yet been called.
func (r *Region) Mapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapped
}

// Bounds reports whether [off, off+length) lies entirely within the
// mapped region. Every operation that touches a fixed zone
// (internal/control, internal/vtty) calls this before dereferencing
// into the view, since a small map_shared(pages) request may be too
// small to reach the VTTY zones even though it maps successfully (see
// internal/ring's VBLKArenaEnd doc comment). internal/vblk does not
// touch the mapping and does not call it.
func (r *Region) Bounds(off, length int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mapped || off < 0 || length < 0 {
		return false
	}
	return int64(off)+int64(length) <= r.size
}

// Unmap releases both views and the backing fd. Idempotent: calling
// Unmap on an already-unmapped or never-mapped Region is a no-op.
func (r *Region) Unmap() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mapped {
		return nil
	}
	var firstErr error
	if err := unix.Munmap(r.kernel); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(r.user); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(r.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	r.kernel = nil
	r.user = nil
	r.fd = -1
	r.mapped = false
	if firstErr != nil {
		return fmt.Errorf("region: unmap: %w", firstErr)
	}
	return nil
}
