package event

import (
	"errors"
	"testing"
	"time"

	"smartcfg/kernel"
	"smartcfg/rtos"
)

const (
	baseA Base = "A_EVENT"
	baseB Base = "B_EVENT"
)

type delivered struct {
	tag  string
	base Base
	id   int32
	data string
}

func newLoop(t *testing.T, cfg LoopConfig) (*kernel.Kernel, *rtos.Runtime, *Loop) {
	t.Helper()
	k := kernel.New(kernel.Config{})
	rt := rtos.New(k)
	l, err := NewLoop(rt, cfg)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	t.Cleanup(l.Close)
	return k, rt, l
}

func recorder(out chan<- delivered, tag string) Handler {
	return func(base Base, id int32, data []byte) {
		out <- delivered{tag: tag, base: base, id: id, data: string(data)}
	}
}

func next(t *testing.T, ch <-chan delivered) delivered {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return delivered{}
	}
}

func TestDispatchMatchesBaseAndID(t *testing.T) {
	_, _, l := newLoop(t, DefaultLoopConfig())
	out := make(chan delivered, 16)

	if err := l.Register(baseA, AnyID, recorder(out, "any")); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(baseA, 2, recorder(out, "two")); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(baseB, 0, recorder(out, "b0")); err != nil {
		t.Fatal(err)
	}

	payload := []byte("x")
	for _, ev := range []struct {
		base Base
		id   int32
	}{{baseA, 1}, {baseA, 2}, {baseB, 7}, {baseB, 0}} {
		if err := l.Post(ev.base, ev.id, payload, rtos.Infinite()); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}
	payload[0] = 'y'

	want := []delivered{
		{"any", baseA, 1, "x"},
		{"any", baseA, 2, "x"},
		{"two", baseA, 2, "x"},
		{"b0", baseB, 0, "x"},
	}
	for i, w := range want {
		if got := next(t, out); got != w {
			t.Fatalf("delivery %d = %+v, want %+v", i, got, w)
		}
	}
	select {
	case d := <-out:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandlersRunOnDispatcherTask(t *testing.T) {
	_, rt, l := newLoop(t, DefaultLoopConfig())
	got := make(chan kernel.Handle, 1)
	_ = l.Register(baseA, AnyID, func(Base, int32, []byte) {
		self, err := rt.Current()
		if err != nil {
			got <- 0
			return
		}
		got <- self.Handle()
	})
	if err := l.Post(baseA, 0, nil, rtos.Zero()); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if h := <-got; h != l.Task().Handle() {
		t.Fatalf("handler ran on task %d, want dispatcher %d", h, l.Task().Handle())
	}
	if name, _ := l.Task().Name(); name != "sys_evt" {
		t.Fatalf("dispatcher name = %q", name)
	}
}

func TestPostQueueFull(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.QueueSize = 1
	_, _, l := newLoop(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	_ = l.Register(baseA, 0, func(Base, int32, []byte) {
		entered <- struct{}{}
		<-release
	})
	defer close(release)

	if err := l.Post(baseA, 0, nil, rtos.Zero()); err != nil {
		t.Fatalf("first Post() error = %v", err)
	}
	<-entered
	if err := l.Post(baseA, 1, nil, rtos.Zero()); err != nil {
		t.Fatalf("second Post() error = %v", err)
	}
	if err := l.Post(baseA, 2, nil, rtos.Zero()); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Post(no wait) on full queue error = %v, want ErrQueueFull", err)
	}
	start := time.Now()
	if err := l.Post(baseA, 2, nil, rtos.Milliseconds(20)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Post(20ms) on full queue error = %v, want ErrQueueFull", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Post returned before its timeout")
	}
}

func TestPostTimeoutFollowsTickRate(t *testing.T) {
	k := kernel.New(kernel.Config{TickRateHz: 1000})
	rt := rtos.New(k)
	cfg := DefaultLoopConfig()
	cfg.QueueSize = 1
	l, err := NewLoop(rt, cfg)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	t.Cleanup(l.Close)

	entered := make(chan struct{})
	release := make(chan struct{})
	_ = l.Register(baseA, 0, func(Base, int32, []byte) {
		entered <- struct{}{}
		<-release
	})
	defer close(release)

	if err := l.Post(baseA, 0, nil, rtos.Zero()); err != nil {
		t.Fatalf("first Post() error = %v", err)
	}
	<-entered
	if err := l.Post(baseA, 1, nil, rtos.Zero()); err != nil {
		t.Fatalf("second Post() error = %v", err)
	}
	start := time.Now()
	if err := l.Post(baseA, 2, nil, rt.Milliseconds(50)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Post(50ms) on full queue error = %v, want ErrQueueFull", err)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Fatalf("Post(50ms) at 1kHz returned after %v", d)
	}
}

func TestRegisterValidation(t *testing.T) {
	_, _, l := newLoop(t, DefaultLoopConfig())
	if err := l.Register(baseA, 0, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("Register(nil) error = %v", err)
	}
	if err := l.Register("", 0, func(Base, int32, []byte) {}); !errors.Is(err, ErrNoBase) {
		t.Fatalf("Register(\"\") error = %v", err)
	}
}

func TestCloseEndsDispatcherTask(t *testing.T) {
	k, _, l := newLoop(t, DefaultLoopConfig())
	if k.TaskCount() != 1 {
		t.Fatalf("TaskCount() = %d, want dispatcher only", k.TaskCount())
	}
	l.Close()
	l.Close()

	deadline := time.Now().Add(2 * time.Second)
	for k.TaskCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher task did not exit")
		}
		time.Sleep(time.Millisecond)
	}
	if err := l.Post(baseA, 0, nil, rtos.Infinite()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Post() after Close error = %v, want ErrClosed", err)
	}
}
