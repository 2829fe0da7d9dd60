package kernel

import (
	"testing"
	"time"
)

// parked spawns a task that blocks until release is closed.
func parked(t *testing.T, k *Kernel) (Handle, func()) {
	t.Helper()
	release := make(chan struct{})
	h := spawn(t, k, "parked", func() { <-release })
	return h, func() { close(release) }
}

func TestNotifyMergeTable(t *testing.T) {
	const prior = 0b1010
	tests := []struct {
		action NotifyAction
		value  uint32
		want   uint32
	}{
		{NotifyNoAction, 0xFF, prior},
		{NotifySetBits, 0b0101, 0b1111},
		{NotifyIncrement, 0, prior + 1},
		{NotifySetValueWithOverwrite, 7, 7},
		{NotifySetValueWithoutOverwrite, 9, 9},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			k := New(Config{})
			h, release := parked(t, k)
			defer release()

			k.mu.Lock()
			k.tasks[h].notifyValue = prior
			k.mu.Unlock()

			if st := k.Notify(h, tt.value, tt.action); st != StatusPass {
				t.Fatalf("Notify() = %s, want pass", st)
			}
			k.mu.Lock()
			got, pending := k.tasks[h].notifyValue, k.tasks[h].notifyPending
			k.mu.Unlock()
			if got != tt.want {
				t.Fatalf("word = %#b, want %#b", got, tt.want)
			}
			if !pending {
				t.Fatal("notification not pending")
			}
		})
	}
}

func TestNotifySetValueFailsWhilePending(t *testing.T) {
	k := New(Config{})
	h, release := parked(t, k)
	defer release()

	if st := k.Notify(h, 1, NotifySetValueWithoutOverwrite); st != StatusPass {
		t.Fatalf("first Notify() = %s", st)
	}
	if st := k.Notify(h, 2, NotifySetValueWithoutOverwrite); st != StatusFail {
		t.Fatalf("second Notify() = %s, want fail", st)
	}
	k.mu.Lock()
	got := k.tasks[h].notifyValue
	k.mu.Unlock()
	if got != 1 {
		t.Fatalf("word = %d, want 1", got)
	}
	if st := k.Notify(h, 3, NotifySetValueWithOverwrite); st != StatusPass {
		t.Fatalf("overwrite Notify() = %s, want pass", st)
	}
}

func TestNotifyUnknownTask(t *testing.T) {
	k := New(Config{})
	if st := k.Notify(99, 1, NotifySetBits); st != StatusFail {
		t.Fatalf("Notify(unknown) = %s, want fail", st)
	}
	if st := k.Notify(0, 1, NotifySetBits); st != StatusFail {
		t.Fatalf("Notify(self) outside a task = %s, want fail", st)
	}
}

type waitResult struct {
	v  uint32
	st Status
}

func TestNotifyWaitBlocksUntilNotified(t *testing.T) {
	k := New(Config{})
	ready := make(chan Handle)
	res := make(chan waitResult, 1)
	spawn(t, k, "waiter", func() {
		ready <- k.CurrentTaskHandle()
		v, st := k.NotifyWait(0, 0xF0, MaxDelay)
		res <- waitResult{v, st}
		v, st = k.NotifyWait(0, 0, 0)
		res <- waitResult{v, st}
	})
	h := <-ready

	select {
	case r := <-res:
		t.Fatalf("NotifyWait returned early: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	k.Notify(h, 0xFF, NotifySetBits)
	r := <-res
	if r.st != StatusPass || r.v != 0xFF {
		t.Fatalf("NotifyWait() = (%#x, %s), want (0xff, pass)", r.v, r.st)
	}
	r = <-res
	if r.st != StatusFail || r.v != 0x0F {
		t.Fatalf("NotifyWait(no wait) = (%#x, %s), want (0xf, fail)", r.v, r.st)
	}
}

func TestNotifyWaitReturnsImmediatelyWhenPending(t *testing.T) {
	k := New(Config{})
	res := make(chan waitResult, 1)
	spawn(t, k, "pending", func() {
		self := k.CurrentTaskHandle()
		k.Notify(self, 5, NotifySetValueWithOverwrite)
		v, st := k.NotifyWait(0xFFFFFFFF, 0, MaxDelay)
		res <- waitResult{v, st}
	})
	select {
	case r := <-res:
		if r.st != StatusPass || r.v != 5 {
			t.Fatalf("NotifyWait() = (%d, %s), want (5, pass); entry mask must not clear a pending word", r.v, r.st)
		}
	case <-time.After(time.Second):
		t.Fatal("NotifyWait blocked with a pending notification")
	}
}

func TestNotifyWaitTimesOut(t *testing.T) {
	k := New(Config{TickRateHz: 1000})
	res := make(chan waitResult, 1)
	spawn(t, k, "timeout", func() {
		k.Notify(0, 0b11, NotifySetValueWithOverwrite)
		k.NotifyWait(0, 0, MaxDelay)
		v, st := k.NotifyWait(0b01, 0, 5)
		res <- waitResult{v, st}
	})
	r := <-res
	if r.st != StatusFail || r.v != 0b10 {
		t.Fatalf("NotifyWait() = (%#b, %s), want (0b10, fail)", r.v, r.st)
	}

	if _, st := k.NotifyWait(0, 0, 0); st != StatusFail {
		t.Fatalf("NotifyWait outside a task = %s, want fail", st)
	}
}
