package kernel

import (
	"bytes"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// NumCores is the number of cores tasks can be pinned to.
	NumCores = 2

	// MaxDelay blocks without a timeout (portMAX_DELAY).
	MaxDelay uint32 = math.MaxUint32

	// MaxTaskNameLen includes the terminating NUL.
	MaxTaskNameLen = 16

	defaultTickRateHz    = 100
	defaultHeapBytes     = 320 * 1024
	defaultMaxPriorities = 25

	tcbBytes        = 352
	eventGroupBytes = 32
	stackWordBytes  = 4
)

// Handle identifies a task. The zero Handle means "the calling task" where an
// operation accepts it, and "no task" where one is returned.
type Handle uintptr

// EventGroupHandle identifies an event group.
type EventGroupHandle uintptr

// CoreID selects the core a task is pinned to.
type CoreID int32

// NoAffinity lets the scheduler place the task on either core (tskNO_AFFINITY).
const NoAffinity CoreID = math.MaxInt32

// Status is the result code of a scheduler call.
type Status int32

const (
	StatusFail             Status = 0
	StatusPass             Status = 1
	StatusCouldNotAllocate Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusCouldNotAllocate:
		return "could not allocate required memory"
	default:
		return "unknown"
	}
}

// Config tunes a Kernel.
type Config struct {
	// TickRateHz is the scheduler tick frequency (configTICK_RATE_HZ).
	TickRateHz uint32
	// HeapBytes bounds the memory available for task stacks and control blocks.
	HeapBytes uint32
	// MaxPriorities is the exclusive upper bound for task priorities.
	MaxPriorities uint32

	Logger *zap.Logger
}

type tcb struct {
	handle     Handle
	name       []byte
	stackBytes uint32
	priority   uint32
	core       CoreID
	goid       int64
	hwm        uint32

	notifyValue   uint32
	notifyPending bool
	wake          chan struct{}

	deleted bool
	kill    chan struct{}
}

// Kernel is a dual-core preemptive scheduler whose tasks are goroutines.
//
// Tasks run truly in parallel; core placement only affects which task
// CurrentTaskHandleForCore reports.
type Kernel struct {
	cfg  Config
	log  *zap.Logger
	tick time.Duration

	mu       sync.Mutex
	next     Handle
	tasks    map[Handle]*tcb
	byGoid   map[int64]*tcb
	current  [NumCores]*tcb
	place    int
	heapUsed uint32

	nextGroup EventGroupHandle
	groups    map[EventGroupHandle]*eventGroup
}

// New creates a kernel. Zero Config fields take defaults.
func New(cfg Config) *Kernel {
	if cfg.TickRateHz == 0 {
		cfg.TickRateHz = defaultTickRateHz
	}
	if cfg.HeapBytes == 0 {
		cfg.HeapBytes = defaultHeapBytes
	}
	if cfg.MaxPriorities == 0 {
		cfg.MaxPriorities = defaultMaxPriorities
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Kernel{
		cfg:    cfg,
		log:    log.Named("kernel"),
		tick:   time.Second / time.Duration(cfg.TickRateHz),
		tasks:  make(map[Handle]*tcb),
		byGoid: make(map[int64]*tcb),
		groups: make(map[EventGroupHandle]*eventGroup),
	}
}

// TickRateHz returns the configured tick frequency.
func (k *Kernel) TickRateHz() uint32 { return k.cfg.TickRateHz }

// HeapFree returns the bytes still available for new tasks and event groups.
func (k *Kernel) HeapFree() uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cfg.HeapBytes - k.heapUsed
}

// TaskCount returns the number of live tasks.
func (k *Kernel) TaskCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tasks)
}

// CreateTask starts entry(arg) as a new task (xTaskCreatePinnedToCore).
//
// name is a C string; bytes after the first NUL are ignored and long names are
// truncated. On any status other than StatusPass, entry is never called.
func (k *Kernel) CreateTask(entry func(arg uintptr), name []byte, stackWords uint32, priority uint32, arg uintptr, core CoreID) (Handle, Status) {
	if entry == nil {
		return 0, StatusFail
	}
	if priority >= k.cfg.MaxPriorities {
		k.log.Error("task priority out of range",
			zap.ByteString("name", cName(name)),
			zap.Uint32("priority", priority),
			zap.Uint32("max", k.cfg.MaxPriorities-1))
		return 0, StatusFail
	}
	if core != NoAffinity && (core < 0 || core >= NumCores) {
		k.log.Error("invalid core id", zap.ByteString("name", cName(name)), zap.Int32("core", int32(core)))
		return 0, StatusFail
	}

	stackBytes := uint64(stackWords) * stackWordBytes
	need := stackBytes + tcbBytes

	k.mu.Lock()
	if uint64(k.heapUsed)+need > uint64(k.cfg.HeapBytes) {
		free := k.cfg.HeapBytes - k.heapUsed
		k.mu.Unlock()
		k.log.Warn("task create: out of memory",
			zap.ByteString("name", cName(name)),
			zap.Uint64("need", need),
			zap.Uint32("free", free))
		return 0, StatusCouldNotAllocate
	}
	k.heapUsed += uint32(need)
	k.next++
	t := &tcb{
		handle:     k.next,
		name:       truncateName(name),
		stackBytes: uint32(stackBytes),
		priority:   priority,
		core:       core,
		hwm:        uint32(stackBytes) - min(uint32(stackBytes), tcbBytes),
		wake:       make(chan struct{}, 1),
		kill:       make(chan struct{}),
	}
	if core == NoAffinity {
		t.core = CoreID(k.place % NumCores)
		k.place++
	}
	k.tasks[t.handle] = t
	k.mu.Unlock()

	k.log.Debug("task created",
		zap.ByteString("name", t.name),
		zap.Uintptr("handle", uintptr(t.handle)),
		zap.Uint32("stack", t.stackBytes),
		zap.Uint32("priority", priority),
		zap.Int32("core", int32(t.core)))

	started := make(chan struct{})
	go k.run(t, entry, arg, started)
	<-started
	return t.handle, StatusPass
}

func (k *Kernel) run(t *tcb, entry func(uintptr), arg uintptr, started chan<- struct{}) {
	id := goid()
	k.mu.Lock()
	t.goid = id
	k.byGoid[id] = t
	k.current[t.core] = t
	k.mu.Unlock()
	close(started)

	defer k.reap(t)
	entry(arg)

	// Task entry functions must end in DeleteTask(0).
	Abort(string(t.name), "task returned from its entry function")
}

func (k *Kernel) reap(t *tcb) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.tasks[t.handle]; !ok {
		return
	}
	delete(k.tasks, t.handle)
	delete(k.byGoid, t.goid)
	for i := range k.current {
		if k.current[i] == t {
			k.current[i] = nil
		}
	}
	k.heapUsed -= t.stackBytes + tcbBytes
	if !t.deleted {
		t.deleted = true
		close(t.kill)
	}
	k.log.Debug("task deleted", zap.ByteString("name", t.name), zap.Uintptr("handle", uintptr(t.handle)))
}

// DeleteTask deletes a task (vTaskDelete). h == 0 deletes the calling task and
// does not return.
//
// Deleting another task frees its resources immediately; its goroutine exits
// the next time it blocks in the kernel.
func (k *Kernel) DeleteTask(h Handle) {
	if h == 0 {
		t := k.self()
		if t == nil {
			k.log.Warn("DeleteTask(self) outside of a task")
			return
		}
		k.reap(t)
		runtime.Goexit()
	}

	k.mu.Lock()
	t, ok := k.tasks[h]
	k.mu.Unlock()
	if !ok {
		return
	}
	k.reap(t)
}

// self returns the calling task and records it as running on its core.
func (k *Kernel) self() *tcb {
	id := goid()
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.byGoid[id]
	if t != nil {
		k.current[t.core] = t
	}
	return t
}

func (k *Kernel) lookup(h Handle) *tcb {
	if h == 0 {
		return k.self()
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[h]
}

// CurrentTaskHandle returns the calling task, or 0 outside of a task.
func (k *Kernel) CurrentTaskHandle() Handle {
	if t := k.self(); t != nil {
		return t.handle
	}
	return 0
}

// CurrentTaskHandleForCore returns the task most recently running on core.
func (k *Kernel) CurrentTaskHandleForCore(core CoreID) Handle {
	if core < 0 || core >= NumCores {
		return 0
	}
	if t := k.self(); t != nil && t.core == core {
		return t.handle
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if t := k.current[core]; t != nil {
		return t.handle
	}
	return 0
}

// TaskName returns the task's name without the terminating NUL, or nil if
// the task does not exist.
func (k *Kernel) TaskName(h Handle) []byte {
	t := k.lookup(h)
	if t == nil {
		return nil
	}
	return bytes.Clone(t.name)
}

// StackHighWaterMark returns the minimum free stack, in bytes, the task has had.
func (k *Kernel) StackHighWaterMark(h Handle) uint32 {
	t := k.lookup(h)
	if t == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return t.hwm
}

// Delay blocks the calling task for the given number of ticks (vTaskDelay).
// Outside of a task it still sleeps.
func (k *Kernel) Delay(ticks uint32) {
	t := k.self()
	if ticks == 0 {
		runtime.Gosched()
		return
	}
	timer := time.NewTimer(k.ticksToDuration(ticks))
	defer timer.Stop()
	if t == nil {
		<-timer.C
		return
	}
	select {
	case <-timer.C:
	case <-t.kill:
		runtime.Goexit()
	}
}

func (k *Kernel) ticksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * k.tick
}

func truncateName(name []byte) []byte {
	n := cName(name)
	if len(n) > MaxTaskNameLen-1 {
		n = n[:MaxTaskNameLen-1]
	}
	return bytes.Clone(n)
}

func cName(name []byte) []byte {
	if i := bytes.IndexByte(name, 0); i >= 0 {
		return name[:i]
	}
	return name
}
