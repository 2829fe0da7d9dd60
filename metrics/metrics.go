// Package metrics exports runtime, event loop and provisioning counters to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"smartcfg/provision"
)

const namespace = "smartcfg"

// Scheduler is the part of the kernel the gauges read.
type Scheduler interface {
	TaskCount() int
	HeapFree() uint32
}

// Metrics implements rtos.Stats, event.Stats and provision.Stats.
type Metrics struct {
	reg prometheus.Registerer

	tasksSpawned     *prometheus.CounterVec
	taskSpawnFailed  *prometheus.CounterVec
	tasksExited      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	eventsPosted     *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	eventsUnhandled  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	state            prometheus.Gauge
	workers          prometheus.Counter
	credentials      prometheus.Counter
	stackFree        *prometheus.GaugeVec
	heartbeats       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		tasksSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtos", Name: "tasks_spawned_total",
			Help: "Tasks created, by task name.",
		}, []string{"task"}),
		taskSpawnFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtos", Name: "task_spawn_failures_total",
			Help: "Task creations refused by the scheduler, by task name.",
		}, []string{"task"}),
		tasksExited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtos", Name: "tasks_exited_total",
			Help: "Tasks whose work returned, by task name.",
		}, []string{"task"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rtos", Name: "notifications_total",
			Help: "Task notifications sent, by action.",
		}, []string{"action"}),
		eventsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "event", Name: "posted_total",
			Help: "Events queued, by event base.",
		}, []string{"base"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "event", Name: "dropped_total",
			Help: "Events rejected because the queue was full, by event base.",
		}, []string{"base"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "event", Name: "dispatched_total",
			Help: "Events taken off the queue, by event base.",
		}, []string{"base"}),
		eventsUnhandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "event", Name: "unhandled_total",
			Help: "Dispatched events no handler matched, by event base.",
		}, []string{"base"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provision", Name: "transitions_total",
			Help: "Provisioning state transitions.",
		}, []string{"from", "to"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "provision", Name: "state",
			Help: "Current provisioning state (0 idle .. 6 provisioning_done).",
		}),
		workers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provision", Name: "workers_started_total",
			Help: "Provisioning worker tasks spawned.",
		}),
		credentials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provision", Name: "credentials_applied_total",
			Help: "Credentials written to the station configuration.",
		}),
		stackFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "rtos", Name: "stack_high_water_mark_bytes",
			Help: "Minimum free stack observed, by task name.",
		}, []string{"task"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "heartbeats_total",
			Help: "Heartbeat loop iterations.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.tasksSpawned, m.taskSpawnFailed, m.tasksExited, m.notifications,
		m.eventsPosted, m.eventsDropped, m.eventsDispatched, m.eventsUnhandled,
		m.transitions, m.state, m.workers, m.credentials, m.stackFree, m.heartbeats,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WatchScheduler exports live task count and free heap of s.
func (m *Metrics) WatchScheduler(s Scheduler) error {
	tasks := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "kernel", Name: "tasks",
		Help: "Live tasks.",
	}, func() float64 { return float64(s.TaskCount()) })
	heap := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "kernel", Name: "heap_free_bytes",
		Help: "Heap left for stacks and kernel objects.",
	}, func() float64 { return float64(s.HeapFree()) })
	if err := m.reg.Register(tasks); err != nil {
		return err
	}
	return m.reg.Register(heap)
}

func (m *Metrics) TaskSpawned(name string)     { m.tasksSpawned.WithLabelValues(name).Inc() }
func (m *Metrics) TaskSpawnFailed(name string) { m.taskSpawnFailed.WithLabelValues(name).Inc() }
func (m *Metrics) TaskExited(name string)      { m.tasksExited.WithLabelValues(name).Inc() }
func (m *Metrics) Notified(action string)      { m.notifications.WithLabelValues(action).Inc() }

func (m *Metrics) EventPosted(base string)  { m.eventsPosted.WithLabelValues(base).Inc() }
func (m *Metrics) EventDropped(base string) { m.eventsDropped.WithLabelValues(base).Inc() }

func (m *Metrics) EventDispatched(base string, handlers int) {
	m.eventsDispatched.WithLabelValues(base).Inc()
	if handlers == 0 {
		m.eventsUnhandled.WithLabelValues(base).Inc()
	}
}

func (m *Metrics) StateChanged(from, to provision.State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.state.Set(float64(to))
}

func (m *Metrics) WorkerStarted()     { m.workers.Inc() }
func (m *Metrics) CredentialApplied() { m.credentials.Inc() }

// Heartbeat records one heartbeat iteration of task with its stack high-water
// mark.
func (m *Metrics) Heartbeat(task string, stackFree uint32) {
	m.heartbeats.Inc()
	m.stackFree.WithLabelValues(task).Set(float64(stackFree))
}
