// Package vblk implements the virtual block engine: the backing file
// manager (BFM) and the three request paths (buffered submit, direct
// read, direct write) the original vblk.c exposes as three distinct
// IOCTLs. The mutex-guarded backing handle is grounded directly on
// ufs.ahci_disk_t (biscuit/src/ufs/driver.go), which wraps an *os.File
// in a sync.Mutex for exactly the same reason: one backing file,
// serialized against concurrent replacement.
package vblk

import (
	"os"
	"sync"

	"github.com/cohost-project/cohost/internal/cohosterr"
)

// Backing is the process-global handle to the block device's backing
// file. It resolves the race the original driver left open in
// CoLinuxHandleVblkSetBacking/CoLinuxVblkCloseBackingOnUnload (closing
// g_vblk_file out from under an in-flight read or write) with an
// RWMutex where SetBacking takes the exclusive lock and every
// read/write holds the shared lock for the duration of its I/O, so a
// swap can never race a request already in flight, and a new request
// can never observe a half-closed handle.
type Backing struct {
	mu   sync.RWMutex
	file *os.File
	path string
}

// NewBacking returns a Backing with no file set; reads and writes
// fail with DeviceNotReady until SetBacking succeeds.
func NewBacking() *Backing { return &Backing{} }

// SetBacking opens path and installs it as the backing file, closing
// whatever was previously installed: wholesale replacement, not a
// merge. The new file is opened before
// the exclusive lock is taken, so a slow open doesn't stall in-flight
// reads/writes; only the pointer swap happens under the lock. The old
// file is closed after the lock is released: taking the lock waited
// out every request that could still be using it.
func (b *Backing) SetBacking(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return cohosterr.Wrap(cohosterr.InvalidParameter, err)
	}

	b.mu.Lock()
	old := b.file
	b.file = f
	b.path = path
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Path returns the currently installed backing file's path, or "" if
// none is set.
func (b *Backing) Path() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// ReadAt reads len(p) bytes at byte offset off from the backing file.
// It holds the shared lock for the duration of the read, so a
// concurrent SetBacking blocks until every in-flight read/write
// finishes rather than swapping the handle underneath them.
func (b *Backing) ReadAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.file == nil {
		return 0, cohosterr.ErrDeviceNotReady
	}
	return b.file.ReadAt(p, off)
}

// WriteAt writes p at byte offset off in the backing file, under the
// same shared-lock discipline as ReadAt.
func (b *Backing) WriteAt(p []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.file == nil {
		return 0, cohosterr.ErrDeviceNotReady
	}
	return b.file.WriteAt(p, off)
}

// Close releases the installed backing file, if any. It is provided
// for harness shutdown (cmd/cohostd), not called mid-protocol.
func (b *Backing) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	b.path = ""
	return err
}
