// Package provision runs SmartConfig Wi-Fi provisioning: it reacts to
// station, IP and SmartConfig events, hands received credentials to the
// network stack and drives a worker task until the phone app acknowledges.
package provision

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"smartcfg/event"
	"smartcfg/hal"
	"smartcfg/rtos"
	"smartcfg/wifi"
)

// Event group bits shared by the handler and the worker.
const (
	ConnectedBit uint32 = 1 << 0
	DoneBit      uint32 = 1 << 1
)

var ErrNilCollaborator = errors.New("provision: nil collaborator")

// Report is what a worker saw before it ended.
type Report struct {
	Task string
	// Bits is the union of every wake result.
	Bits  uint32
	Wakes int
}

// Connected reports whether the worker observed CONNECTED.
func (r Report) Connected() bool { return r.Bits&ConnectedBit != 0 }

// Done reports whether the worker observed DONE.
func (r Report) Done() bool { return r.Bits&DoneBit != 0 }

// Stats receives provisioning events. Implementations must be safe for
// concurrent use.
type Stats interface {
	StateChanged(from, to State)
	WorkerStarted()
	CredentialApplied()
}

type nopStats struct{}

func (nopStats) StateChanged(State, State) {}
func (nopStats) WorkerStarted()            {}
func (nopStats) CredentialApplied()        {}

// Config configures a Provisioner. Zero fields take defaults.
type Config struct {
	WorkerName     string
	WorkerStack    uint32
	WorkerPriority rtos.TaskPriority
	WorkerAffinity rtos.CPUAffinity
	Protocol       wifi.SmartConfigType

	// Sink receives the device log lines.
	Sink   hal.Logger
	Logger *zap.Logger
	Stats  Stats

	// Fatal is called when a collaborator fails. It must not return
	// normally; the default panics.
	Fatal func(err error)
	// OnFinished, if set, is called on the worker task just before it ends.
	OnFinished func(Report)
}

// DefaultConfig returns the stock worker configuration.
func DefaultConfig() Config {
	return Config{
		WorkerName:     "smartconfig",
		WorkerStack:    4096,
		WorkerPriority: 3,
		WorkerAffinity: rtos.Pinned(rtos.CorePro),
		Protocol:       wifi.SmartConfigESPTouch,
	}
}

// Provisioner owns the shared event group and the handler bound to it.
type Provisioner struct {
	rt   *rtos.Runtime
	loop *event.Loop
	sta  wifi.Station
	sc   wifi.SmartConfig
	cfg  Config
	log  *zap.Logger
	sink hal.Logger

	group *rtos.EventGroup
	state stateCell
}

// New creates the event group. Nothing is registered or started until Start.
func New(rt *rtos.Runtime, loop *event.Loop, sta wifi.Station, sc wifi.SmartConfig, cfg Config) (*Provisioner, error) {
	if rt == nil || loop == nil || sta == nil || sc == nil {
		return nil, ErrNilCollaborator
	}
	def := DefaultConfig()
	if cfg.WorkerName == "" {
		cfg.WorkerName = def.WorkerName
	}
	if cfg.WorkerStack == 0 {
		cfg.WorkerStack = def.WorkerStack
	}
	if cfg.WorkerPriority == 0 {
		cfg.WorkerPriority = def.WorkerPriority
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(err error) { panic(err) }
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = discard{}
	}
	stats := cfg.Stats
	if stats == nil {
		stats = nopStats{}
	}

	group, err := rt.NewEventGroup()
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	p := &Provisioner{
		rt:    rt,
		loop:  loop,
		sta:   sta,
		sc:    sc,
		cfg:   cfg,
		log:   log.Named("provision"),
		sink:  sink,
		group: group,
	}
	p.state.stats = stats
	return p, nil
}

// Start registers the event handler and brings the station up in STA mode.
// Provisioning proceeds from the resulting STA_START event.
func (p *Provisioner) Start() error {
	regs := []struct {
		base event.Base
		id   int32
	}{
		{wifi.EventBase, event.AnyID},
		{wifi.IPEventBase, wifi.IPEventStaGotIP},
		{wifi.SCEventBase, event.AnyID},
	}
	for _, r := range regs {
		if err := p.loop.Register(r.base, r.id, p.HandleEvent); err != nil {
			return fmt.Errorf("register %s: %w", r.base, err)
		}
	}
	if err := p.sta.Init(); err != nil {
		return fmt.Errorf("wifi init: %w", err)
	}
	if err := p.sta.SetMode(wifi.ModeSTA); err != nil {
		return fmt.Errorf("wifi set mode: %w", err)
	}
	if err := p.sta.Start(); err != nil {
		return fmt.Errorf("wifi start: %w", err)
	}
	p.log.Info("station started")
	return nil
}

// State returns the current provisioning state.
func (p *Provisioner) State() State { return p.state.load() }

// Bits returns the event group bits.
func (p *Provisioner) Bits() uint32 { return p.group.Bits() }

// HandleEvent is the event handler. It runs on the dispatcher task and only
// touches the event group, the state and the collaborators.
func (p *Provisioner) HandleEvent(base event.Base, id int32, data []byte) {
	k := classify(base, id)
	if k == kindIgnored {
		return
	}
	p.log.Debug("event", zap.Stringer("kind", k), zap.Stringer("state", p.state.load()))

	switch k {
	case kindStaStart:
		p.spawnWorker()
	case kindStaDisconnected:
		p.clear(ConnectedBit)
		p.state.move(Connected, Connecting)
	case kindGotIP:
		p.set(ConnectedBit)
		p.state.set(Connected)
	case kindScanDone:
		p.sink.WriteLineString("Scan done")
		p.state.set(CredentialsAwaited)
	case kindFoundChannel:
		p.sink.WriteLineString("Found channel")
	case kindGotCredential:
		p.sink.WriteLineString("Got SSID and password")
		p.applyCredential(data)
	case kindAckDone:
		p.set(DoneBit)
		p.state.set(ProvisioningDone)
	}
}

func (p *Provisioner) applyCredential(data []byte) {
	cred, err := wifi.DecodeCredential(data)
	if err != nil {
		p.log.Warn("dropping credential event", zap.Error(err))
		return
	}
	cfg, err := cred.StationConfig()
	if err != nil {
		p.log.Warn("dropping credential event", zap.Error(err))
		return
	}
	p.state.set(CredentialsReceived)

	p.sink.WriteLineString("SSID: " + string(cred.SSID))
	p.sink.WriteLineString("Password: " + strings.Repeat("*", len(cred.Password)))
	fields := []zap.Field{zap.ByteString("ssid", cred.SSID)}
	if cred.BSSID != nil {
		fields = append(fields, zap.Stringer("bssid", cred.BSSID))
	}
	p.log.Info("credential received", fields...)

	if err := p.sta.Disconnect(); err != nil {
		p.fatal(fmt.Errorf("wifi disconnect: %w", err))
		return
	}
	if err := p.sta.SetConfig(cfg); err != nil {
		p.fatal(fmt.Errorf("wifi set config: %w", err))
		return
	}
	p.state.stats.CredentialApplied()
	p.state.set(Connecting)
	if err := p.sta.Connect(); err != nil {
		p.fatal(fmt.Errorf("wifi connect: %w", err))
	}
}

func (p *Provisioner) spawnWorker() {
	_, err := p.rt.NewTask().
		Name(p.cfg.WorkerName).
		StackSize(p.cfg.WorkerStack).
		Priority(p.cfg.WorkerPriority).
		Affinity(p.cfg.WorkerAffinity).
		Start(p.work)
	if err != nil {
		p.fatal(fmt.Errorf("spawn provisioning worker: %w", err))
		return
	}
	p.state.stats.WorkerStarted()
	p.state.set(Scanning)
}

// work is the provisioning worker. It runs SmartConfig until DONE is seen.
func (p *Provisioner) work() {
	if err := p.sc.SetType(p.cfg.Protocol); err != nil {
		p.fatal(fmt.Errorf("smartconfig set type: %w", err))
		return
	}
	if err := p.sc.Start(wifi.SmartConfigStart{}); err != nil {
		p.fatal(fmt.Errorf("smartconfig start: %w", err))
		return
	}

	report := Report{Task: p.cfg.WorkerName}
	for {
		bits, err := p.group.Wait(ConnectedBit|DoneBit, true, false, rtos.Infinite())
		if err != nil {
			p.fatal(fmt.Errorf("wait provisioning bits: %w", err))
			return
		}
		report.Bits |= bits
		report.Wakes++

		if bits&ConnectedBit != 0 {
			p.sink.WriteLineString("Wifi connected to AP")
		}
		if bits&DoneBit != 0 {
			p.sink.WriteLineString("SmartConfig over")
			if err := p.sc.Stop(); err != nil {
				p.fatal(fmt.Errorf("smartconfig stop: %w", err))
				return
			}
			break
		}
	}
	p.log.Info("provisioning finished", zap.Uint32("bits", report.Bits), zap.Int("wakes", report.Wakes))
	if p.cfg.OnFinished != nil {
		p.cfg.OnFinished(report)
	}
}

func (p *Provisioner) set(bits uint32) {
	if _, err := p.group.Set(bits); err != nil {
		p.fatal(err)
	}
}

func (p *Provisioner) clear(bits uint32) {
	if _, err := p.group.Clear(bits); err != nil {
		p.fatal(err)
	}
}

func (p *Provisioner) fatal(err error) {
	p.log.Error("provisioning failed", zap.Error(err))
	p.sink.WriteLineString("provisioning failed: " + err.Error())
	p.cfg.Fatal(err)
}

type discard struct{}

func (discard) WriteLineString(string) {}
func (discard) WriteLineBytes([]byte)  {}
