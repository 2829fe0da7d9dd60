package rtos

import (
	"fmt"

	"smartcfg/kernel"
)

// EventGroup is a bitset shared between tasks and event handlers. Set, Clear
// and Wait are individually atomic. Only the low 24 bits are usable.
type EventGroup struct {
	sched  Scheduler
	handle kernel.EventGroupHandle
}

// NewEventGroup allocates an event group with all bits clear. Event groups are
// never freed.
func (rt *Runtime) NewEventGroup() (*EventGroup, error) {
	h, st := rt.sched.EventGroupCreate()
	if st != kernel.StatusPass {
		return nil, fmt.Errorf("create event group: %w", statusError(st))
	}
	return &EventGroup{sched: rt.sched, handle: h}, nil
}

func checkBits(bits uint32) error {
	if bits == 0 || bits&^kernel.EventGroupUsableBits != 0 {
		return fmt.Errorf("%w: %#x", ErrInvalidBits, bits)
	}
	return nil
}

// Set sets bits and returns the group's bits afterwards.
func (g *EventGroup) Set(bits uint32) (uint32, error) {
	if err := checkBits(bits); err != nil {
		return 0, err
	}
	return g.sched.EventGroupSetBits(g.handle, bits), nil
}

// Clear clears bits and returns the group's bits before clearing.
func (g *EventGroup) Clear(bits uint32) (uint32, error) {
	if err := checkBits(bits); err != nil {
		return 0, err
	}
	return g.sched.EventGroupClearBits(g.handle, bits), nil
}

// Bits returns the current bits.
func (g *EventGroup) Bits() uint32 {
	return g.sched.EventGroupGetBits(g.handle)
}

// Wait blocks until any bit of mask is set, or every bit with waitForAll, or
// until timeout. It returns the group's bits at that moment; callers test the
// result to tell a wake from a timeout. With clearOnExit, the mask bits are
// cleared atomically with a successful wake.
func (g *EventGroup) Wait(mask uint32, clearOnExit, waitForAll bool, timeout Duration) (uint32, error) {
	if err := checkBits(mask); err != nil {
		return 0, err
	}
	return g.sched.EventGroupWaitBits(g.handle, mask, clearOnExit, waitForAll, timeout.Ticks()), nil
}
