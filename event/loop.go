// Package event is the system event loop: producers post (base, id, payload)
// events and handlers run on the loop's own dispatcher task.
package event

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartcfg/rtos"
)

// Base identifies the subsystem an event comes from.
type Base string

// AnyID registers a handler for every id of a base.
const AnyID int32 = -1

// Handler receives an event on the dispatcher task. data is only valid for the
// duration of the call; handlers that need it later must decode or copy it.
type Handler func(base Base, id int32, data []byte)

var (
	ErrClosed     = errors.New("event: loop closed")
	ErrQueueFull  = errors.New("event: queue full")
	ErrNilHandler = errors.New("event: nil handler")
	ErrNoBase     = errors.New("event: empty event base")
)

// Stats receives loop events. Implementations must be safe for concurrent use.
type Stats interface {
	EventPosted(base string)
	EventDropped(base string)
	EventDispatched(base string, handlers int)
}

type nopStats struct{}

func (nopStats) EventPosted(string)          {}
func (nopStats) EventDropped(string)         {}
func (nopStats) EventDispatched(string, int) {}

// LoopConfig sizes the loop and its dispatcher task.
type LoopConfig struct {
	QueueSize    int
	TaskName     string
	TaskStack    uint32
	TaskPriority rtos.TaskPriority
	TaskAffinity rtos.CPUAffinity

	Logger *zap.Logger
	Stats  Stats
}

// DefaultLoopConfig matches the system default event loop.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		QueueSize:    32,
		TaskName:     "sys_evt",
		TaskStack:    2304,
		TaskPriority: 20,
		TaskAffinity: rtos.Pinned(rtos.CorePro),
	}
}

type posted struct {
	base Base
	id   int32
	data []byte
}

type registration struct {
	base    Base
	id      int32
	handler Handler
}

func (r registration) matches(base Base, id int32) bool {
	return r.base == base && (r.id == AnyID || r.id == id)
}

// Loop queues posted events and dispatches them in order on one task.
type Loop struct {
	rt    *rtos.Runtime
	log   *zap.Logger
	stats Stats

	queue     chan posted
	quit      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	handlers []registration

	task rtos.Task
}

// NewLoop creates the loop and starts its dispatcher task.
func NewLoop(rt *rtos.Runtime, cfg LoopConfig) (*Loop, error) {
	def := DefaultLoopConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TaskName == "" {
		cfg.TaskName = def.TaskName
	}
	if cfg.TaskStack == 0 {
		cfg.TaskStack = def.TaskStack
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = nopStats{}
	}

	l := &Loop{
		rt:    rt,
		log:   log.Named("event"),
		stats: stats,
		queue: make(chan posted, cfg.QueueSize),
		quit:  make(chan struct{}),
	}
	task, err := rt.NewTask().
		Name(cfg.TaskName).
		StackSize(cfg.TaskStack).
		Priority(cfg.TaskPriority).
		Affinity(cfg.TaskAffinity).
		Start(l.run)
	if err != nil {
		return nil, fmt.Errorf("event loop: %w", err)
	}
	l.task = task
	return l, nil
}

// Task returns the dispatcher task.
func (l *Loop) Task() rtos.Task { return l.task }

// Register adds h for events of base with the given id, or every id with
// AnyID. Handlers run in registration order.
func (l *Loop) Register(base Base, id int32, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if base == "" {
		return ErrNoBase
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, registration{base: base, id: id, handler: h})
	return nil
}

// Post queues an event, copying data. It waits up to timeout for queue space;
// Zero() never waits and Infinite() waits until space frees up or the loop
// is closed.
func (l *Loop) Post(base Base, id int32, data []byte, timeout rtos.Duration) error {
	select {
	case <-l.quit:
		return ErrClosed
	default:
	}

	ev := posted{base: base, id: id}
	if len(data) > 0 {
		ev.data = append([]byte(nil), data...)
	}

	var expire <-chan time.Time
	switch {
	case timeout.Ticks() == 0:
		select {
		case l.queue <- ev:
			l.stats.EventPosted(string(base))
			return nil
		default:
			l.stats.EventDropped(string(base))
			return ErrQueueFull
		}
	case !timeout.IsInfinite():
		timer := time.NewTimer(time.Duration(l.rt.ToMilliseconds(timeout)) * time.Millisecond)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case l.queue <- ev:
		l.stats.EventPosted(string(base))
		return nil
	case <-expire:
		l.stats.EventDropped(string(base))
		l.log.Warn("event queue full", zap.String("base", string(base)), zap.Int32("id", id))
		return ErrQueueFull
	case <-l.quit:
		return ErrClosed
	}
}

// Close stops the dispatcher task after the event it is handling, if any.
// Queued events are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
}

func (l *Loop) run() {
	for {
		select {
		case ev := <-l.queue:
			l.dispatch(ev)
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) dispatch(ev posted) {
	l.mu.RLock()
	var matched []Handler
	for _, r := range l.handlers {
		if r.matches(ev.base, ev.id) {
			matched = append(matched, r.handler)
		}
	}
	l.mu.RUnlock()

	if len(matched) == 0 {
		l.log.Debug("unhandled event", zap.String("base", string(ev.base)), zap.Int32("id", ev.id))
	}
	for _, h := range matched {
		h(ev.base, ev.id, ev.data)
	}
	l.stats.EventDispatched(string(ev.base), len(matched))
}
