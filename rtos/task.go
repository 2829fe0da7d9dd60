package rtos

import (
	"fmt"
	"strings"

	"smartcfg/kernel"
)

// Core names one of the two cores.
type Core uint8

const (
	CorePro Core = 0
	CoreApp Core = 1
)

// CPUAffinity pins a task to a core or leaves placement to the scheduler.
type CPUAffinity struct {
	core   Core
	pinned bool
}

// NoAffinity lets the scheduler run the task on either core.
var NoAffinity = CPUAffinity{}

// Pinned runs the task on core only.
func Pinned(core Core) CPUAffinity {
	return CPUAffinity{core: core, pinned: true}
}

// Core returns the pinned core and whether the affinity is pinned.
func (a CPUAffinity) Core() (Core, bool) { return a.core, a.pinned }

func (a CPUAffinity) coreID() kernel.CoreID {
	if !a.pinned {
		return kernel.NoAffinity
	}
	return kernel.CoreID(a.core)
}

func (a CPUAffinity) String() string {
	if !a.pinned {
		return "any"
	}
	return fmt.Sprintf("core%d", a.core)
}

// TaskPriority orders ready tasks; higher runs first. Range checks are left to
// the scheduler.
type TaskPriority uint8

// Task is a handle to a scheduled task. Dropping it does not affect the task,
// and it may dangle once the task's work has returned.
type Task struct {
	sched  Scheduler
	stats  Stats
	handle kernel.Handle
}

// TaskBuilder configures a task before it is started. Obtain one with
// Runtime.NewTask.
type TaskBuilder struct {
	rt        *Runtime
	name      string
	stackSize uint32
	priority  TaskPriority
	affinity  CPUAffinity
}

// NewTask returns a builder with default name, stack size, priority and no
// affinity.
func (rt *Runtime) NewTask() TaskBuilder {
	return TaskBuilder{
		rt:        rt,
		name:      "task",
		stackSize: 2048,
		priority:  1,
		affinity:  NoAffinity,
	}
}

// Name sets the task name.
func (b TaskBuilder) Name(name string) TaskBuilder {
	b.name = name
	return b
}

// StackSize sets the stack size in words.
func (b TaskBuilder) StackSize(words uint32) TaskBuilder {
	b.stackSize = words
	return b
}

// Priority sets the task priority.
func (b TaskBuilder) Priority(p TaskPriority) TaskBuilder {
	b.priority = p
	return b
}

// Affinity pins the task to a core or leaves it free to run on either.
func (b TaskBuilder) Affinity(a CPUAffinity) TaskBuilder {
	b.affinity = a
	return b
}

// Start runs fn once in a new task; the task ends when fn returns.
func (b TaskBuilder) Start(fn func()) (Task, error) {
	if fn == nil {
		return Task{}, ErrNilWork
	}
	return b.StartWork(WorkFunc(fn))
}

// StartWork runs w once in a new task. If the task cannot be spawned, w is
// released without running and the error is returned.
func (b TaskBuilder) StartWork(w Work) (Task, error) {
	if w == nil {
		return Task{}, ErrNilWork
	}
	key := putBox(&box{rt: b.rt, name: b.name, work: w})

	name, err := cString(b.name)
	if err != nil {
		dropBox(key)
		b.rt.stats.TaskSpawnFailed(b.name)
		return Task{}, fmt.Errorf("spawn %q: %w", b.name, err)
	}

	h, st := b.rt.sched.CreateTask(trampoline, name, b.stackSize, uint32(b.priority), key, b.affinity.coreID())
	if st != kernel.StatusPass {
		dropBox(key)
		b.rt.stats.TaskSpawnFailed(b.name)
		return Task{}, fmt.Errorf("spawn %q: %w", b.name, statusError(st))
	}
	b.rt.stats.TaskSpawned(b.name)
	return Task{sched: b.rt.sched, stats: b.rt.stats, handle: h}, nil
}

func cString(s string) ([]byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, ErrNameEncoding
	}
	out := make([]byte, len(s)+1)
	copy(out, s)
	return out, nil
}

// trampoline is the entry point of every task.
func trampoline(key uintptr) {
	b := takeBox(key)
	if b == nil {
		kernel.Abort("", "rtos: task started without work")
	}
	b.run()
	b.rt.epilogue(b.name)
}

func (b *box) run() {
	defer b.release()
	defer func() {
		if r := recover(); r != nil {
			kernel.AbortRecovered(b.name, r)
		}
	}()
	b.work.Run()
}

// epilogue deletes the calling task. It never returns.
func (rt *Runtime) epilogue(name string) {
	rt.stats.TaskExited(name)
	rt.sched.DeleteTask(0)
	select {}
}

// Handle returns the native task handle.
func (t Task) Handle() kernel.Handle { return t.handle }

// Name returns the task's name.
func (t Task) Name() (string, error) {
	name := t.sched.TaskName(t.handle)
	if name == nil {
		return "", ErrNoName
	}
	return string(name), nil
}

// StackHighWaterMark returns the minimum free stack in bytes the task has had.
func (t Task) StackHighWaterMark() uint32 {
	return t.sched.StackHighWaterMark(t.handle)
}
