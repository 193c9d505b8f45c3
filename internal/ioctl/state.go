package ioctl

import "sync/atomic"

// State is a connection's position in its lifecycle: OPENED on
// creation, MAPPED once map_shared succeeds, CLOSING once
// Close begins, CLOSED once it finishes. RunTick/VTTY operations
// require MAPPED; VBLK operations and a repeat map_shared attempt are
// valid from OPENED or MAPPED but never after CLOSING/CLOSED begins.
type State int32

const (
	StateOpened State = iota
	StateMapped
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "OPENED"
	case StateMapped:
		return "MAPPED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type stateBox struct{ v int32 }

func (b *stateBox) load() State       { return State(atomic.LoadInt32(&b.v)) }
func (b *stateBox) store(s State)     { atomic.StoreInt32(&b.v, int32(s)) }
func (b *stateBox) cas(old, new State) bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(old), int32(new))
}
