package provision

import "sync/atomic"

// State is the provisioning progress as seen by the event handler.
//
// Idle is only the initial state. ProvisioningDone is kept after the worker
// ends; a later STA_START begins a new round from there and moves straight
// to Scanning.
type State int32

const (
	Idle State = iota
	Scanning
	CredentialsAwaited
	CredentialsReceived
	Connecting
	Connected
	ProvisioningDone
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case CredentialsAwaited:
		return "credentials_awaited"
	case CredentialsReceived:
		return "credentials_received"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ProvisioningDone:
		return "provisioning_done"
	default:
		return "unknown"
	}
}

type stateCell struct {
	v     atomic.Int32
	stats Stats
}

func (c *stateCell) load() State { return State(c.v.Load()) }

func (c *stateCell) set(to State) {
	from := State(c.v.Swap(int32(to)))
	if from != to {
		c.stats.StateChanged(from, to)
	}
}

// move transitions only from the given state.
func (c *stateCell) move(from, to State) bool {
	if !c.v.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.stats.StateChanged(from, to)
	return true
}
