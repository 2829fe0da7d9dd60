package hal

import (
	"net"
	"sync"
	"time"

	"tinygo.org/x/drivers/netlink"
)

var simHardwareAddr = net.HardwareAddr{0x24, 0x0a, 0xc4, 0x00, 0x00, 0x01}

// simLink is a netlink device associated with the SimRadio access point.
type simLink struct {
	r *SimRadio

	mu        sync.Mutex
	cb        func(netlink.Event)
	connected bool
}

func (l *simLink) NetConnect(p *netlink.ConnectParams) error {
	if p.Ssid == "" {
		return netlink.ErrMissingSSID
	}
	if p.ConnectMode != netlink.ConnectModeSTA {
		return netlink.ErrConnectModeNoGood
	}
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return netlink.ErrConnected
	}
	l.mu.Unlock()

	select {
	case <-time.After(l.r.cfg.StepDelay):
	case <-l.r.quit:
		return netlink.ErrConnectTimeout
	}
	if !l.r.accepts(p.Ssid, p.Passphrase) {
		return netlink.ErrAuthFailure
	}

	l.mu.Lock()
	l.connected = true
	cb := l.cb
	l.mu.Unlock()
	if cb != nil {
		cb(netlink.EventNetUp)
	}

	l.r.mu.Lock()
	l.r.ackLocked()
	l.r.mu.Unlock()
	return nil
}

func (l *simLink) NetDisconnect() {
	l.mu.Lock()
	was := l.connected
	l.connected = false
	cb := l.cb
	l.mu.Unlock()
	if was && cb != nil {
		cb(netlink.EventNetDown)
	}
}

func (l *simLink) NetNotify(cb func(netlink.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

func (l *simLink) GetHardwareAddr() (net.HardwareAddr, error) {
	return simHardwareAddr, nil
}
