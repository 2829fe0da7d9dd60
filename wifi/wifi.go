// Package wifi describes the station interface of the network stack, the
// SmartConfig provisioning service and the events both post.
package wifi

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

const (
	SSIDLen     = 32
	PasswordLen = 64
	BSSIDLen    = 6
)

var (
	ErrNotInitialized = errors.New("wifi: not initialized")
	ErrNotStarted     = errors.New("wifi: not started")
	ErrMode           = errors.New("wifi: unsupported mode")
	ErrFieldTooLong   = errors.New("wifi: field too long")
	ErrBadPayload     = errors.New("wifi: malformed event payload")
	ErrRunning        = errors.New("wifi: smartconfig already running")
)

// Mode is the radio operating mode.
type Mode uint8

const (
	ModeNull Mode = iota
	ModeSTA
	ModeAP
	ModeAPSTA
)

func (m Mode) String() string {
	switch m {
	case ModeNull:
		return "null"
	case ModeSTA:
		return "sta"
	case ModeAP:
		return "ap"
	case ModeAPSTA:
		return "apsta"
	default:
		return "unknown"
	}
}

// StationConfig is the station configuration handed to the network stack.
// SSID and Password are NUL padded.
type StationConfig struct {
	SSID     [SSIDLen]byte
	Password [PasswordLen]byte
	BSSIDSet bool
	BSSID    [BSSIDLen]byte
}

// SSIDString returns the SSID up to the first NUL.
func (c StationConfig) SSIDString() string { return string(trimNUL(c.SSID[:])) }

// PasswordString returns the password up to the first NUL.
func (c StationConfig) PasswordString() string { return string(trimNUL(c.Password[:])) }

// Station is the network stack's station control surface. Calls are
// asynchronous: outcomes arrive later as WIFI_EVENT and IP_EVENT events.
type Station interface {
	Init() error
	SetMode(m Mode) error
	Start() error
	Connect() error
	Disconnect() error
	SetConfig(c StationConfig) error
}

// SmartConfigType selects the provisioning protocol.
type SmartConfigType uint8

const (
	SmartConfigESPTouch SmartConfigType = iota
	SmartConfigAirKiss
	SmartConfigESPTouchAirKiss
	SmartConfigESPTouchV2
)

func (t SmartConfigType) String() string {
	switch t {
	case SmartConfigESPTouch:
		return "esptouch"
	case SmartConfigAirKiss:
		return "airkiss"
	case SmartConfigESPTouchAirKiss:
		return "esptouch+airkiss"
	case SmartConfigESPTouchV2:
		return "esptouch-v2"
	default:
		return "unknown"
	}
}

// SmartConfigStart configures a provisioning run.
type SmartConfigStart struct {
	EnableLog bool
}

// SmartConfig receives credentials from a phone app. Progress is reported as
// SC_EVENT events.
type SmartConfig interface {
	SetType(t SmartConfigType) error
	Start(cfg SmartConfigStart) error
	Stop() error
}

// Credential is a network credential received during provisioning.
type Credential struct {
	SSID     []byte
	Password []byte
	// BSSID pins the access point; nil when any AP with the SSID will do.
	BSSID net.HardwareAddr
}

// StationConfig converts the credential for Station.SetConfig.
func (c Credential) StationConfig() (StationConfig, error) {
	var sc StationConfig
	if len(c.SSID) > SSIDLen {
		return sc, fmt.Errorf("ssid: %w", ErrFieldTooLong)
	}
	if len(c.Password) > PasswordLen {
		return sc, fmt.Errorf("password: %w", ErrFieldTooLong)
	}
	copy(sc.SSID[:], c.SSID)
	copy(sc.Password[:], c.Password)
	if c.BSSID != nil {
		if len(c.BSSID) != BSSIDLen {
			return sc, fmt.Errorf("bssid: %w", ErrBadPayload)
		}
		sc.BSSIDSet = true
		copy(sc.BSSID[:], c.BSSID)
	}
	return sc, nil
}

func trimNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
