package rtos

import (
	"fmt"

	"smartcfg/kernel"
)

// TaskNotification is a change to a task's 32-bit notification word. A task
// holds at most one pending notification; later sends merge into it as the
// action describes and are never queued.
type TaskNotification struct {
	action kernel.NotifyAction
	value  uint32
}

// NoAction wakes the task without changing its word.
func NoAction() TaskNotification { return TaskNotification{action: kernel.NotifyNoAction} }

// SetBits ORs v into the word.
func SetBits(v uint32) TaskNotification {
	return TaskNotification{action: kernel.NotifySetBits, value: v}
}

// Increment adds one to the word.
func Increment() TaskNotification { return TaskNotification{action: kernel.NotifyIncrement} }

// OverwriteValue replaces the word unconditionally.
func OverwriteValue(v uint32) TaskNotification {
	return TaskNotification{action: kernel.NotifySetValueWithOverwrite, value: v}
}

// SetValue replaces the word only if no notification is pending; otherwise
// Notify fails with ErrNotificationPending.
func SetValue(v uint32) TaskNotification {
	return TaskNotification{action: kernel.NotifySetValueWithoutOverwrite, value: v}
}

func (n TaskNotification) String() string {
	switch n.action {
	case kernel.NotifyNoAction, kernel.NotifyIncrement:
		return n.action.String()
	default:
		return fmt.Sprintf("%s(%#x)", n.action, n.value)
	}
}

// Notify sends n to the task.
func (t Task) Notify(n TaskNotification) error {
	st := t.sched.Notify(t.handle, n.value, n.action)
	if st != kernel.StatusPass {
		if n.action == kernel.NotifySetValueWithoutOverwrite && t.sched.TaskName(t.handle) != nil {
			return ErrNotificationPending
		}
		return fmt.Errorf("notify %s: %w", n, statusError(st))
	}
	t.stats.Notified(n.action.String())
	return nil
}

// SetNotificationValue forces the task's word to v.
func (t Task) SetNotificationValue(v uint32) error {
	return t.Notify(OverwriteValue(v))
}

// WaitForNotification blocks the calling task, which must be t, until a
// notification arrives or timeout expires.
//
// If nothing is pending, clearOnEntry bits are cleared before waiting. The word
// is returned as received; clearOnExit bits are then cleared in the stored
// word. A pending notification returns immediately.
func (t Task) WaitForNotification(clearOnEntry, clearOnExit uint32, timeout Duration) (uint32, error) {
	cur := t.sched.CurrentTaskHandle()
	if cur == 0 {
		return 0, ErrNotFound
	}
	if cur != t.handle {
		return 0, ErrNotCurrent
	}
	v, st := t.sched.NotifyWait(clearOnEntry, clearOnExit, timeout.Ticks())
	if st != kernel.StatusPass {
		return v, ErrTimeout
	}
	return v, nil
}
