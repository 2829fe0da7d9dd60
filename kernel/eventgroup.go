package kernel

import (
	"runtime"
	"time"
)

// EventGroupUsableBits masks the bits an event group can carry; the top byte
// is reserved for the kernel.
const EventGroupUsableBits uint32 = 0x00FFFFFF

type eventGroup struct {
	bits    uint32
	changed chan struct{}
}

func (g *eventGroup) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// EventGroupCreate allocates an event group with all bits clear.
func (k *Kernel) EventGroupCreate() (EventGroupHandle, Status) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.heapUsed+eventGroupBytes > k.cfg.HeapBytes {
		return 0, StatusCouldNotAllocate
	}
	k.heapUsed += eventGroupBytes
	k.nextGroup++
	k.groups[k.nextGroup] = &eventGroup{changed: make(chan struct{})}
	return k.nextGroup, StatusPass
}

// EventGroupSetBits sets bits, wakes waiters and returns the bits as set.
// Waiters that clear on exit may have cleared some of them by the time the
// caller looks again.
func (k *Kernel) EventGroupSetBits(h EventGroupHandle, bits uint32) uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	g := k.groups[h]
	if g == nil {
		return 0
	}
	g.bits |= bits & EventGroupUsableBits
	g.broadcast()
	return g.bits
}

// EventGroupClearBits clears bits and returns the value before clearing.
func (k *Kernel) EventGroupClearBits(h EventGroupHandle, bits uint32) uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	g := k.groups[h]
	if g == nil {
		return 0
	}
	prev := g.bits
	g.bits &^= bits & EventGroupUsableBits
	return prev
}

// EventGroupGetBits returns the current bits.
func (k *Kernel) EventGroupGetBits(h EventGroupHandle) uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if g := k.groups[h]; g != nil {
		return g.bits
	}
	return 0
}

// EventGroupWaitBits blocks up to ticks until any (or, with waitForAll, every)
// bit of mask is set (xEventGroupWaitBits).
//
// It returns the group's bits at the moment the condition was met or the
// timeout expired. If the condition was met and clearOnExit is set, the mask
// bits are cleared in the same critical section.
func (k *Kernel) EventGroupWaitBits(h EventGroupHandle, mask uint32, clearOnExit, waitForAll bool, ticks uint32) uint32 {
	mask &= EventGroupUsableBits

	var kill <-chan struct{}
	if t := k.self(); t != nil {
		kill = t.kill
	}

	var timeout <-chan time.Time
	if ticks != MaxDelay && ticks != 0 {
		timer := time.NewTimer(k.ticksToDuration(ticks))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		k.mu.Lock()
		g := k.groups[h]
		if g == nil {
			k.mu.Unlock()
			return 0
		}
		v := g.bits
		if satisfied(v, mask, waitForAll) {
			if clearOnExit {
				g.bits &^= mask
			}
			k.mu.Unlock()
			return v
		}
		changed := g.changed
		k.mu.Unlock()

		if ticks == 0 {
			return v
		}
		select {
		case <-changed:
		case <-timeout:
			return k.EventGroupGetBits(h)
		case <-kill:
			runtime.Goexit()
		}
	}
}

func satisfied(bits, mask uint32, all bool) bool {
	if mask == 0 {
		return false
	}
	if all {
		return bits&mask == mask
	}
	return bits&mask != 0
}
