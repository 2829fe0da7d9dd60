package hal

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartcfg/event"
	"smartcfg/rtos"
	"smartcfg/wifi"
)

// RadioKind selects how the simulated station is driven.
type RadioKind string

const (
	// RadioSim drives the station directly.
	RadioSim RadioKind = "sim"
	// RadioNetlink drives the station through NetlinkStation over a
	// simulated netlink device.
	RadioNetlink RadioKind = "netlink"
)

// SimConfig describes the simulated access point and the credential the
// simulated phone app sends over SmartConfig.
type SimConfig struct {
	Kind     RadioKind
	SSID     string
	Password string
	// BSSID, if set, is sent with the credential.
	BSSID string
	IP    string
	// StepDelay separates consecutive radio events.
	StepDelay time.Duration
}

// DefaultSimConfig returns a simulated home network.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SSID:      "home",
		Password:  "secret1",
		IP:        "192.168.4.2",
		StepDelay: 50 * time.Millisecond,
	}
}

type airEvent struct {
	base event.Base
	id   int32
	data []byte
	// smartconfig events are dropped once the service is stopped.
	smartconfig bool
}

// SimRadio simulates a Wi-Fi station and a SmartConfig service. Events are
// posted in order from one goroutine, StepDelay apart.
type SimRadio struct {
	cfg SimConfig
	log *zap.Logger

	netlink *NetlinkStation

	mu          sync.Mutex
	bus         Bus
	air         chan airEvent
	quit        chan struct{}
	closeOnce   sync.Once
	initialized bool
	mode        wifi.Mode
	started     bool
	connected   bool
	staCfg      wifi.StationConfig
	scType      wifi.SmartConfigType
	scRunning   bool
	credSent    bool
}

// NewSimRadio returns a simulated radio. Nothing is posted until it is
// attached to a bus.
func NewSimRadio(cfg SimConfig, log *zap.Logger) *SimRadio {
	if log == nil {
		log = zap.NewNop()
	}
	r := &SimRadio{
		cfg:  cfg,
		log:  log.Named("simradio"),
		air:  make(chan airEvent, 64),
		quit: make(chan struct{}),
	}
	if cfg.Kind == RadioNetlink {
		r.netlink = NewNetlinkStation(&simLink{r: r}, log)
	}
	return r
}

func (r *SimRadio) Attach(bus Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		return
	}
	r.bus = bus
	if r.netlink != nil {
		r.netlink.Attach(bus)
	}
	go r.transmit()
}

// Close stops event delivery.
func (r *SimRadio) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
}

func (r *SimRadio) Station() wifi.Station {
	if r.netlink != nil {
		return r.netlink
	}
	return simStation{r}
}

func (r *SimRadio) SmartConfig() wifi.SmartConfig { return simSmartConfig{r} }

// stationStartedLocked reports whether the station has been started. r.mu
// must be held.
func (r *SimRadio) stationStartedLocked() bool {
	if r.netlink != nil {
		return r.netlink.Started()
	}
	return r.started
}

// accepts reports whether the access point accepts ssid and password.
func (r *SimRadio) accepts(ssid, password string) bool {
	return ssid == r.cfg.SSID && password == r.cfg.Password
}

// emit queues an event. r.mu must be held.
func (r *SimRadio) emit(ev airEvent) {
	select {
	case r.air <- ev:
	default:
		r.log.Warn("air queue full, dropping event", zap.String("base", string(ev.base)), zap.Int32("id", ev.id))
	}
}

func (r *SimRadio) transmit() {
	for {
		select {
		case ev := <-r.air:
			select {
			case <-time.After(r.cfg.StepDelay):
			case <-r.quit:
				return
			}
			if ev.smartconfig {
				r.mu.Lock()
				running := r.scRunning
				r.mu.Unlock()
				if !running {
					continue
				}
			}
			if err := r.bus.Post(ev.base, ev.id, ev.data, rtos.Infinite()); err != nil {
				r.log.Debug("post failed", zap.Error(err))
			}
		case <-r.quit:
			return
		}
	}
}

func (r *SimRadio) credential() (wifi.Credential, error) {
	c := wifi.Credential{SSID: []byte(r.cfg.SSID), Password: []byte(r.cfg.Password)}
	if r.cfg.BSSID != "" {
		mac, err := net.ParseMAC(r.cfg.BSSID)
		if err != nil {
			return wifi.Credential{}, err
		}
		c.BSSID = mac
	}
	return c, nil
}

// connectLocked resolves a connection attempt against the access point.
func (r *SimRadio) connectLocked() {
	if !r.accepts(r.staCfg.SSIDString(), r.staCfg.PasswordString()) {
		r.log.Info("association rejected", zap.String("ssid", r.staCfg.SSIDString()))
		r.emit(airEvent{base: wifi.EventBase, id: wifi.EventStaDisconnected})
		return
	}
	r.connected = true
	r.emit(airEvent{base: wifi.EventBase, id: wifi.EventStaConnected})

	ip := net.ParseIP(r.cfg.IP)
	gw := make(net.IP, len(ip.To4()))
	copy(gw, ip.To4())
	if len(gw) == net.IPv4len {
		gw[3] = 1
	}
	payload, _ := wifi.NewGotIP(ip, net.IPv4(255, 255, 255, 0), gw).MarshalBinary()
	r.emit(airEvent{base: wifi.IPEventBase, id: wifi.IPEventStaGotIP, data: payload})

	r.ackLocked()
}

// ackLocked queues SEND_ACK_DONE if the phone app is waiting for it. r.mu
// must be held.
func (r *SimRadio) ackLocked() {
	if r.scRunning && r.credSent {
		r.emit(airEvent{base: wifi.SCEventBase, id: wifi.SCEventSendAckDone, smartconfig: true})
	}
}

type simStation struct{ r *SimRadio }

func (s simStation) Init() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.initialized = true
	return nil
}

func (s simStation) SetMode(m wifi.Mode) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.initialized {
		return wifi.ErrNotInitialized
	}
	if m != wifi.ModeSTA {
		return wifi.ErrMode
	}
	s.r.mode = m
	return nil
}

func (s simStation) Start() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.mode != wifi.ModeSTA {
		return wifi.ErrNotInitialized
	}
	s.r.started = true
	s.r.emit(airEvent{base: wifi.EventBase, id: wifi.EventStaStart})
	return nil
}

func (s simStation) Connect() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.started {
		return wifi.ErrNotStarted
	}
	s.r.connectLocked()
	return nil
}

func (s simStation) Disconnect() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.started {
		return wifi.ErrNotStarted
	}
	if s.r.connected {
		s.r.connected = false
		s.r.emit(airEvent{base: wifi.EventBase, id: wifi.EventStaDisconnected})
	}
	return nil
}

func (s simStation) SetConfig(c wifi.StationConfig) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.initialized {
		return wifi.ErrNotInitialized
	}
	s.r.staCfg = c
	return nil
}

type simSmartConfig struct{ r *SimRadio }

func (s simSmartConfig) SetType(t wifi.SmartConfigType) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.scType = t
	return nil
}

func (s simSmartConfig) Start(wifi.SmartConfigStart) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.stationStartedLocked() {
		return wifi.ErrNotStarted
	}
	if s.r.scRunning {
		return wifi.ErrRunning
	}
	cred, err := s.r.credential()
	if err != nil {
		return err
	}
	p, err := wifi.NewGotSSIDPassword(cred, s.r.scType)
	if err != nil {
		return err
	}
	payload, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	s.r.scRunning = true
	s.r.credSent = true
	s.r.emit(airEvent{base: wifi.SCEventBase, id: wifi.SCEventScanDone, smartconfig: true})
	s.r.emit(airEvent{base: wifi.SCEventBase, id: wifi.SCEventFoundChannel, smartconfig: true})
	s.r.emit(airEvent{base: wifi.SCEventBase, id: wifi.SCEventGotSSIDPswd, data: payload, smartconfig: true})
	return nil
}

func (s simSmartConfig) Stop() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.scRunning = false
	s.r.credSent = false
	return nil
}
