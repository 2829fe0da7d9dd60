package provision

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"smartcfg/event"
	"smartcfg/kernel"
	"smartcfg/rtos"
	"smartcfg/wifi"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recorder) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.fail[call]
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

type fakeStation struct{ recorder }

func (s *fakeStation) Init() error              { return s.record("init") }
func (s *fakeStation) SetMode(m wifi.Mode) error { return s.record("mode " + m.String()) }
func (s *fakeStation) Start() error             { return s.record("start") }
func (s *fakeStation) Connect() error           { return s.record("connect") }
func (s *fakeStation) Disconnect() error        { return s.record("disconnect") }
func (s *fakeStation) SetConfig(c wifi.StationConfig) error {
	return s.record(fmt.Sprintf("config %s/%s", c.SSIDString(), c.PasswordString()))
}

type fakeSmartConfig struct{ recorder }

func (s *fakeSmartConfig) SetType(t wifi.SmartConfigType) error {
	return s.record("type " + t.String())
}
func (s *fakeSmartConfig) Start(wifi.SmartConfigStart) error { return s.record("start") }
func (s *fakeSmartConfig) Stop() error                       { return s.record("stop") }

type spawnCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *spawnCounter) TaskSpawned(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}
func (c *spawnCounter) TaskSpawnFailed(string) {}
func (c *spawnCounter) TaskExited(string)      {}
func (c *spawnCounter) Notified(string)        {}

func (c *spawnCounter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, s)
}

func (l *lines) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

type fixture struct {
	k        *kernel.Kernel
	loop     *event.Loop
	sta      *fakeStation
	sc       *fakeSmartConfig
	spawns   *spawnCounter
	sink     *lines
	finished chan Report
	fatals   chan error
	p        *Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		k:        kernel.New(kernel.Config{}),
		sta:      &fakeStation{},
		sc:       &fakeSmartConfig{},
		spawns:   &spawnCounter{},
		sink:     &lines{},
		finished: make(chan Report, 4),
		fatals:   make(chan error, 4),
	}
	rt := rtos.New(f.k, rtos.WithStats(f.spawns))
	loop, err := event.NewLoop(rt, event.DefaultLoopConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	t.Cleanup(loop.Close)
	f.loop = loop

	cfg := DefaultConfig()
	cfg.Sink = f.sink
	cfg.OnFinished = func(r Report) { f.finished <- r }
	cfg.Fatal = func(err error) { f.fatals <- err }
	f.p, err = New(rt, loop, f.sta, f.sc, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func (f *fixture) post(t *testing.T, base event.Base, id int32, data []byte) {
	t.Helper()
	if err := f.loop.Post(base, id, data, rtos.Infinite()); err != nil {
		t.Fatalf("Post(%s, %d) error = %v", base, id, err)
	}
}

func credentialPayload(t *testing.T, ssid, password string) []byte {
	t.Helper()
	p, err := wifi.NewGotSSIDPassword(wifi.Credential{SSID: []byte(ssid), Password: []byte(password)}, wifi.SmartConfigESPTouch)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (f *fixture) round(t *testing.T) Report {
	t.Helper()
	f.post(t, wifi.EventBase, wifi.EventStaStart, nil)
	f.post(t, wifi.SCEventBase, wifi.SCEventScanDone, nil)
	f.post(t, wifi.SCEventBase, wifi.SCEventGotSSIDPswd, credentialPayload(t, "home", "secret1"))
	f.post(t, wifi.IPEventBase, wifi.IPEventStaGotIP, nil)
	f.post(t, wifi.SCEventBase, wifi.SCEventSendAckDone, nil)

	select {
	case r := <-f.finished:
		return r
	case err := <-f.fatals:
		t.Fatalf("fatal: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}
	return Report{}
}

func (f *fixture) waitWorkersGone(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.k.TaskCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("TaskCount() = %d, want dispatcher only", f.k.TaskCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProvisioningRound(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got, want := f.sta.take(), []string{"init", "mode sta", "start"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("station calls on Start = %q, want %q", got, want)
	}

	r := f.round(t)
	if !r.Connected() || !r.Done() {
		t.Fatalf("worker observed bits %#b, want CONNECTED and DONE", r.Bits)
	}
	f.waitWorkersGone(t)

	if n := f.spawns.count("smartconfig"); n != 1 {
		t.Fatalf("spawned %d workers, want 1", n)
	}
	if got, want := f.sta.take(), []string{"disconnect", "config home/secret1", "connect"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("station calls = %q, want %q", got, want)
	}
	if got, want := f.sc.take(), []string{"type esptouch", "start", "stop"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("smartconfig calls = %q, want %q", got, want)
	}
	if s := f.p.State(); s != ProvisioningDone {
		t.Fatalf("State() = %s, want provisioning_done", s)
	}
	if bits := f.p.Bits(); bits != 0 {
		t.Fatalf("Bits() = %#b after worker exit, want 0", bits)
	}
}

func TestProvisioningRoundsAreNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s := f.p.State(); s != Idle {
		t.Fatalf("State() before the first round = %s, want idle", s)
	}
	for i := 1; i <= 2; i++ {
		if i == 2 {
			if s := f.p.State(); s != ProvisioningDone {
				t.Fatalf("State() before round 2 = %s, want provisioning_done", s)
			}
		}
		r := f.round(t)
		if !r.Connected() || !r.Done() {
			t.Fatalf("round %d: worker observed %#b", i, r.Bits)
		}
		f.waitWorkersGone(t)
	}
	if n := f.spawns.count("smartconfig"); n != 2 {
		t.Fatalf("spawned %d workers over two rounds, want 2", n)
	}
	if s := f.p.State(); s != ProvisioningDone {
		t.Fatalf("State() after round 2 = %s, want provisioning_done", s)
	}
}

func TestDisconnectClearsConnected(t *testing.T) {
	f := newFixture(t)
	f.p.HandleEvent(wifi.IPEventBase, wifi.IPEventStaGotIP, nil)
	if f.p.Bits()&ConnectedBit == 0 || f.p.State() != Connected {
		t.Fatalf("after GOT_IP bits=%#b state=%s", f.p.Bits(), f.p.State())
	}
	f.p.HandleEvent(wifi.EventBase, wifi.EventStaDisconnected, nil)
	if f.p.Bits()&ConnectedBit != 0 {
		t.Fatalf("after STA_DISCONNECTED bits=%#b, want CONNECTED cleared", f.p.Bits())
	}
	if f.p.State() != Connecting {
		t.Fatalf("State() = %s, want connecting", f.p.State())
	}
}

func TestUnrecognizedEventsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.p.HandleEvent(wifi.EventBase, wifi.EventScanDone, nil)
	f.p.HandleEvent(wifi.IPEventBase, wifi.IPEventStaLostIP, nil)
	f.p.HandleEvent(wifi.SCEventBase, 42, nil)
	f.p.HandleEvent("OTHER_EVENT", wifi.EventStaStart, nil)

	if calls := f.sta.take(); len(calls) != 0 {
		t.Fatalf("station calls = %q, want none", calls)
	}
	if f.k.TaskCount() != 1 {
		t.Fatalf("TaskCount() = %d, want no worker", f.k.TaskCount())
	}
	if f.p.State() != Idle || f.p.Bits() != 0 {
		t.Fatalf("state=%s bits=%#b, want idle and 0", f.p.State(), f.p.Bits())
	}
}

func TestMalformedCredentialIsDropped(t *testing.T) {
	f := newFixture(t)
	f.p.HandleEvent(wifi.SCEventBase, wifi.SCEventGotSSIDPswd, []byte("short"))
	if calls := f.sta.take(); len(calls) != 0 {
		t.Fatalf("station calls = %q, want none", calls)
	}
}

func TestCredentialLogMasksPassword(t *testing.T) {
	f := newFixture(t)
	f.p.HandleEvent(wifi.SCEventBase, wifi.SCEventGotSSIDPswd, credentialPayload(t, "home", "secret1"))

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	want := []string{"Got SSID and password", "SSID: home", "Password: *******"}
	if !reflect.DeepEqual(f.sink.got, want) {
		t.Fatalf("sink = %q, want %q", f.sink.got, want)
	}
}

func TestCollaboratorFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.sta.fail = map[string]error{"config home/secret1": boom}

	f.p.HandleEvent(wifi.SCEventBase, wifi.SCEventGotSSIDPswd, credentialPayload(t, "home", "secret1"))
	select {
	case err := <-f.fatals:
		if !errors.Is(err, boom) {
			t.Fatalf("fatal error = %v, want wrapping boom", err)
		}
	default:
		t.Fatal("Fatal not called")
	}
	if got, want := f.sta.take(), []string{"disconnect", "config home/secret1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("station calls = %q, want %q", got, want)
	}
}

func TestStartPropagatesStationErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no radio")
	f.sta.fail = map[string]error{"mode sta": boom}
	if err := f.p.Start(); !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want wrapping %v", err, boom)
	}
	if got, want := f.sta.take(), []string{"init", "mode sta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("station calls = %q, want %q", got, want)
	}
}

func TestNewRejectsNilCollaborators(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, Config{}); !errors.Is(err, ErrNilCollaborator) {
		t.Fatalf("New(nil...) error = %v", err)
	}
}
