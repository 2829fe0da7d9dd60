package kernel

import (
	"runtime"
	"time"
)

// NotifyAction selects how Notify updates the target's notification word.
type NotifyAction uint8

const (
	NotifyNoAction NotifyAction = iota
	NotifySetBits
	NotifyIncrement
	NotifySetValueWithOverwrite
	NotifySetValueWithoutOverwrite
)

func (a NotifyAction) String() string {
	switch a {
	case NotifyNoAction:
		return "no_action"
	case NotifySetBits:
		return "set_bits"
	case NotifyIncrement:
		return "increment"
	case NotifySetValueWithOverwrite:
		return "overwrite_value"
	case NotifySetValueWithoutOverwrite:
		return "set_value"
	default:
		return "unknown"
	}
}

// Notify updates the notification word of task h and marks a notification
// pending (xTaskNotify). h == 0 notifies the calling task.
//
// NotifySetValueWithoutOverwrite fails, leaving the word untouched, while a
// previous notification is still pending.
func (k *Kernel) Notify(h Handle, value uint32, action NotifyAction) Status {
	var t *tcb
	if h == 0 {
		t = k.self()
	}

	k.mu.Lock()
	if h != 0 {
		t = k.tasks[h]
	}
	if t == nil || t.deleted {
		k.mu.Unlock()
		return StatusFail
	}
	switch action {
	case NotifyNoAction:
	case NotifySetBits:
		t.notifyValue |= value
	case NotifyIncrement:
		t.notifyValue++
	case NotifySetValueWithOverwrite:
		t.notifyValue = value
	case NotifySetValueWithoutOverwrite:
		if t.notifyPending {
			k.mu.Unlock()
			return StatusFail
		}
		t.notifyValue = value
	default:
		k.mu.Unlock()
		return StatusFail
	}
	t.notifyPending = true
	k.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return StatusPass
}

// NotifyWait waits up to ticks for a notification to the calling task
// (xTaskNotifyWait).
//
// If nothing is pending, clearOnEntry bits are cleared before blocking. On
// StatusPass the returned value is the word as it was when the notification
// was taken, and clearOnExit bits are then cleared from the stored word. On
// timeout the current word is returned with StatusFail.
func (k *Kernel) NotifyWait(clearOnEntry, clearOnExit uint32, ticks uint32) (uint32, Status) {
	t := k.self()
	if t == nil {
		return 0, StatusFail
	}

	k.mu.Lock()
	if !t.notifyPending {
		t.notifyValue &^= clearOnEntry
	}
	k.mu.Unlock()

	var timeout <-chan time.Time
	if ticks != MaxDelay && ticks != 0 {
		timer := time.NewTimer(k.ticksToDuration(ticks))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		k.mu.Lock()
		if t.notifyPending {
			v := t.notifyValue
			t.notifyValue &^= clearOnExit
			t.notifyPending = false
			k.mu.Unlock()
			return v, StatusPass
		}
		v := t.notifyValue
		k.mu.Unlock()

		if ticks == 0 {
			return v, StatusFail
		}
		select {
		case <-t.wake:
		case <-timeout:
			k.mu.Lock()
			v = t.notifyValue
			pending := t.notifyPending
			if pending {
				t.notifyValue &^= clearOnExit
				t.notifyPending = false
			}
			k.mu.Unlock()
			if pending {
				return v, StatusPass
			}
			return v, StatusFail
		case <-t.kill:
			runtime.Goexit()
		}
	}
}
