package hal

import (
	"net"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/drivers/netlink"

	"smartcfg/event"
	"smartcfg/rtos"
	"smartcfg/wifi"
)

// NetlinkStation drives a TinyGo netlink device as a wifi.Station. Link
// up/down notifications are posted as WIFI_EVENT and IP_EVENT events.
type NetlinkStation struct {
	link netlink.Netlinker
	log  *zap.Logger

	mu          sync.Mutex
	bus         Bus
	initialized bool
	started     bool
	params      netlink.ConnectParams
}

// NewNetlinkStation wraps link.
func NewNetlinkStation(link netlink.Netlinker, log *zap.Logger) *NetlinkStation {
	if log == nil {
		log = zap.NewNop()
	}
	return &NetlinkStation{link: link, log: log.Named("netlink")}
}

// Attach sets the bus station events are posted to.
func (s *NetlinkStation) Attach(bus Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
}

// HardwareAddr returns the device MAC address.
func (s *NetlinkStation) HardwareAddr() (net.HardwareAddr, error) {
	return s.link.GetHardwareAddr()
}

func (s *NetlinkStation) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.link.NetNotify(s.notify)
	s.initialized = true
	return nil
}

func (s *NetlinkStation) SetMode(m wifi.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return wifi.ErrNotInitialized
	}
	switch m {
	case wifi.ModeSTA:
		s.params.ConnectMode = netlink.ConnectModeSTA
	case wifi.ModeAP:
		s.params.ConnectMode = netlink.ConnectModeAP
	default:
		return wifi.ErrMode
	}
	return nil
}

// Start marks the station started. netlink devices have no separate start
// step, so STA_START is posted immediately.
func (s *NetlinkStation) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return wifi.ErrNotInitialized
	}
	s.started = true
	s.mu.Unlock()
	s.post(wifi.EventBase, wifi.EventStaStart, nil)
	return nil
}

// Started reports whether Start has been called.
func (s *NetlinkStation) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *NetlinkStation) SetConfig(c wifi.StationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Ssid = c.SSIDString()
	s.params.Passphrase = c.PasswordString()
	s.params.AuthType = netlink.AuthTypeWPA2
	if s.params.Passphrase == "" {
		s.params.AuthType = netlink.AuthTypeOpen
	}
	return nil
}

// Connect starts association in the background; NetConnect blocks for up to
// the connect timeout. Failure is reported as STA_DISCONNECTED.
func (s *NetlinkStation) Connect() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return wifi.ErrNotStarted
	}
	params := s.params
	s.mu.Unlock()

	go func() {
		if err := s.link.NetConnect(&params); err != nil {
			s.log.Warn("connect failed", zap.String("ssid", params.Ssid), zap.Error(err))
			s.post(wifi.EventBase, wifi.EventStaDisconnected, nil)
		}
	}()
	return nil
}

func (s *NetlinkStation) Disconnect() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return wifi.ErrNotStarted
	}
	s.link.NetDisconnect()
	return nil
}

func (s *NetlinkStation) notify(ev netlink.Event) {
	switch ev {
	case netlink.EventNetUp:
		s.post(wifi.EventBase, wifi.EventStaConnected, nil)
		s.post(wifi.IPEventBase, wifi.IPEventStaGotIP, nil)
	case netlink.EventNetDown:
		s.post(wifi.EventBase, wifi.EventStaDisconnected, nil)
	}
}

func (s *NetlinkStation) post(base event.Base, id int32, data []byte) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		s.log.Debug("no bus attached, dropping event", zap.String("base", string(base)), zap.Int32("id", id))
		return
	}
	if err := bus.Post(base, id, data, rtos.Infinite()); err != nil {
		s.log.Warn("post failed", zap.Error(err))
	}
}
