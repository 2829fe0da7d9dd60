package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"smartcfg/event"
	"smartcfg/provision"
	"smartcfg/rtos"
)

var (
	_ rtos.Stats      = (*Metrics)(nil)
	_ event.Stats     = (*Metrics)(nil)
	_ provision.Stats = (*Metrics)(nil)
)

func newMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, reg
}

func TestCounters(t *testing.T) {
	m, _ := newMetrics(t)

	m.TaskSpawned("smartconfig")
	m.TaskSpawned("smartconfig")
	m.TaskSpawnFailed("heartbeat")
	m.Notified("set_bits")
	m.EventPosted("SC_EVENT")
	m.EventDispatched("SC_EVENT", 1)
	m.EventDispatched("OTHER", 0)
	m.WorkerStarted()
	m.CredentialApplied()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"spawned", m.tasksSpawned.WithLabelValues("smartconfig"), 2},
		{"spawn failed", m.taskSpawnFailed.WithLabelValues("heartbeat"), 1},
		{"notified", m.notifications.WithLabelValues("set_bits"), 1},
		{"posted", m.eventsPosted.WithLabelValues("SC_EVENT"), 1},
		{"dispatched", m.eventsDispatched.WithLabelValues("SC_EVENT"), 1},
		{"unhandled handled base", m.eventsUnhandled.WithLabelValues("SC_EVENT"), 0},
		{"unhandled", m.eventsUnhandled.WithLabelValues("OTHER"), 1},
		{"workers", m.workers, 1},
		{"credentials", m.credentials, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStateChanged(t *testing.T) {
	m, _ := newMetrics(t)
	m.StateChanged(provision.Idle, provision.Scanning)
	m.StateChanged(provision.Scanning, provision.CredentialsAwaited)

	if got := testutil.ToFloat64(m.state); got != float64(provision.CredentialsAwaited) {
		t.Fatalf("state = %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("idle", "scanning")); got != 1 {
		t.Fatalf("idle->scanning = %v", got)
	}
}

type fakeScheduler struct{}

func (fakeScheduler) TaskCount() int   { return 3 }
func (fakeScheduler) HeapFree() uint32 { return 4096 }

func TestWatchScheduler(t *testing.T) {
	m, reg := newMetrics(t)
	if err := m.WatchScheduler(fakeScheduler{}); err != nil {
		t.Fatalf("WatchScheduler() error = %v", err)
	}
	want := `
# HELP smartcfg_kernel_tasks Live tasks.
# TYPE smartcfg_kernel_tasks gauge
smartcfg_kernel_tasks 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "smartcfg_kernel_tasks"); err != nil {
		t.Fatal(err)
	}
}

func TestHeartbeat(t *testing.T) {
	m, _ := newMetrics(t)
	m.Heartbeat("heartbeat", 7840)
	if got := testutil.ToFloat64(m.stackFree.WithLabelValues("heartbeat")); got != 7840 {
		t.Fatalf("stack gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.heartbeats); got != 1 {
		t.Fatalf("heartbeats = %v", got)
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("second New() on the same registry succeeded")
	}
}
