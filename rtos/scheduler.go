package rtos

import "smartcfg/kernel"

// Scheduler is the native task, notification and event-group primitive the
// runtime drives. *kernel.Kernel implements it.
type Scheduler interface {
	TickRateHz() uint32
	CreateTask(entry func(arg uintptr), name []byte, stackWords uint32, priority uint32, arg uintptr, core kernel.CoreID) (kernel.Handle, kernel.Status)
	DeleteTask(h kernel.Handle)
	CurrentTaskHandle() kernel.Handle
	CurrentTaskHandleForCore(core kernel.CoreID) kernel.Handle
	TaskName(h kernel.Handle) []byte
	StackHighWaterMark(h kernel.Handle) uint32
	Delay(ticks uint32)

	Notify(h kernel.Handle, value uint32, action kernel.NotifyAction) kernel.Status
	NotifyWait(clearOnEntry, clearOnExit uint32, ticks uint32) (uint32, kernel.Status)

	EventGroupCreate() (kernel.EventGroupHandle, kernel.Status)
	EventGroupSetBits(g kernel.EventGroupHandle, bits uint32) uint32
	EventGroupClearBits(g kernel.EventGroupHandle, bits uint32) uint32
	EventGroupGetBits(g kernel.EventGroupHandle) uint32
	EventGroupWaitBits(g kernel.EventGroupHandle, mask uint32, clearOnExit, waitForAll bool, ticks uint32) uint32
}

// Stats receives runtime events. Implementations must be safe for concurrent use.
type Stats interface {
	TaskSpawned(name string)
	TaskSpawnFailed(name string)
	TaskExited(name string)
	Notified(action string)
}

type nopStats struct{}

func (nopStats) TaskSpawned(string)     {}
func (nopStats) TaskSpawnFailed(string) {}
func (nopStats) TaskExited(string)      {}
func (nopStats) Notified(string)        {}

// Runtime spawns and addresses tasks on a Scheduler.
type Runtime struct {
	sched Scheduler
	stats Stats
	rate  TickRate
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithStats reports runtime events to s.
func WithStats(s Stats) Option {
	return func(rt *Runtime) {
		if s != nil {
			rt.stats = s
		}
	}
}

// New returns a runtime over sched.
func New(sched Scheduler, opts ...Option) *Runtime {
	rt := &Runtime{sched: sched, stats: nopStats{}, rate: TickRate(sched.TickRateHz())}
	if rt.rate == 0 {
		rt.rate = PlatformTickRate
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// TickRate returns the scheduler's tick frequency.
func (rt *Runtime) TickRate() TickRate { return rt.rate }

// Milliseconds returns a duration of at least ms at the scheduler's tick rate.
func (rt *Runtime) Milliseconds(ms uint32) Duration { return rt.rate.Milliseconds(ms) }

// ToMilliseconds converts d at the scheduler's tick rate.
func (rt *Runtime) ToMilliseconds(d Duration) uint32 { return rt.rate.ToMilliseconds(d) }

// Delay blocks the calling task for at least d.
func (rt *Runtime) Delay(d Duration) {
	rt.sched.Delay(d.Ticks())
}

// StackHighWaterMark returns the calling task's minimum free stack in bytes.
func (rt *Runtime) StackHighWaterMark() uint32 {
	return rt.sched.StackHighWaterMark(0)
}

// Current returns the calling task.
func (rt *Runtime) Current() (Task, error) {
	h := rt.sched.CurrentTaskHandle()
	if h == 0 {
		return Task{}, ErrNotFound
	}
	return Task{sched: rt.sched, stats: rt.stats, handle: h}, nil
}

// CurrentOnCore returns the task currently running on core.
func (rt *Runtime) CurrentOnCore(core Core) (Task, error) {
	h := rt.sched.CurrentTaskHandleForCore(kernel.CoreID(core))
	if h == 0 {
		return Task{}, ErrNotFound
	}
	return Task{sched: rt.sched, stats: rt.stats, handle: h}, nil
}
