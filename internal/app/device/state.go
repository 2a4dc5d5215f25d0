package device

import "sync/atomic"

type State int32

const (
	StateIdle State = iota
	StateReady
	StateStarted
	StateStopped
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// stateBox is written under the session mutex and read without it.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State   { return State(b.v.Load()) }
func (b *stateBox) Store(s State) { b.v.Store(int32(s)) }
