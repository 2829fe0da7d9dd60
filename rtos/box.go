package rtos

import "sync"

// Work is a unit of execution run once by a task.
type Work interface {
	Run()
}

// WorkFunc adapts a function to Work.
type WorkFunc func()

func (f WorkFunc) Run() { f() }

// Releaser is implemented by work that owns resources. Release is called
// exactly once when the runtime drops the work: after Run returns, or when the
// task could not be spawned and Run never happens.
type Releaser interface {
	Release()
}

// box carries work across the scheduler, which only passes a uintptr to the
// task entry point.
type box struct {
	rt   *Runtime
	name string
	work Work
}

var boxes = struct {
	sync.Mutex
	next uintptr
	m    map[uintptr]*box
}{m: make(map[uintptr]*box)}

func putBox(b *box) uintptr {
	boxes.Lock()
	defer boxes.Unlock()
	boxes.next++
	if boxes.next == 0 {
		boxes.next++
	}
	boxes.m[boxes.next] = b
	return boxes.next
}

// takeBox hands ownership of the box back to the caller. A key can be taken
// only once.
func takeBox(key uintptr) *box {
	boxes.Lock()
	defer boxes.Unlock()
	b, ok := boxes.m[key]
	if !ok {
		return nil
	}
	delete(boxes.m, key)
	return b
}

// dropBox takes and releases a box whose work will never run.
func dropBox(key uintptr) {
	if b := takeBox(key); b != nil {
		b.release()
	}
}

func liveBoxes() int {
	boxes.Lock()
	defer boxes.Unlock()
	return len(boxes.m)
}

func (b *box) release() {
	if r, ok := b.work.(Releaser); ok {
		r.Release()
	}
}
