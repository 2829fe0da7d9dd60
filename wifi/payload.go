package wifi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// GotSSIDPassword is the SC_EVENT/GOT_SSID_PSWD payload as laid out on the
// wire: fixed NUL-padded fields, no padding between them.
type GotSSIDPassword struct {
	SSID        [SSIDLen]byte
	Password    [PasswordLen]byte
	BSSIDSet    uint8
	BSSID       [BSSIDLen]byte
	Type        SmartConfigType
	Token       uint8
	CellphoneIP [4]byte
}

// GotSSIDPasswordSize is the encoded payload length.
var GotSSIDPasswordSize = binary.Size(GotSSIDPassword{})

// MarshalBinary encodes the payload.
func (p GotSSIDPassword) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(GotSSIDPasswordSize)
	if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a payload. Trailing bytes are ignored.
func (p *GotSSIDPassword) UnmarshalBinary(data []byte) error {
	if len(data) < GotSSIDPasswordSize {
		return fmt.Errorf("got ssid/password: %d bytes, want %d: %w", len(data), GotSSIDPasswordSize, ErrBadPayload)
	}
	return binary.Read(bytes.NewReader(data[:GotSSIDPasswordSize]), binary.LittleEndian, p)
}

// Credential returns the credential carried by the payload.
func (p GotSSIDPassword) Credential() Credential {
	c := Credential{
		SSID:     append([]byte(nil), trimNUL(p.SSID[:])...),
		Password: append([]byte(nil), trimNUL(p.Password[:])...),
	}
	if p.BSSIDSet != 0 {
		c.BSSID = append(net.HardwareAddr(nil), p.BSSID[:]...)
	}
	return c
}

// NewGotSSIDPassword builds the payload a SmartConfig service posts for c.
func NewGotSSIDPassword(c Credential, t SmartConfigType) (GotSSIDPassword, error) {
	var p GotSSIDPassword
	sc, err := c.StationConfig()
	if err != nil {
		return p, err
	}
	p.SSID = sc.SSID
	p.Password = sc.Password
	if sc.BSSIDSet {
		p.BSSIDSet = 1
		p.BSSID = sc.BSSID
	}
	p.Type = t
	return p, nil
}

// DecodeCredential decodes a GOT_SSID_PSWD payload into a credential.
func DecodeCredential(data []byte) (Credential, error) {
	var p GotSSIDPassword
	if err := p.UnmarshalBinary(data); err != nil {
		return Credential{}, err
	}
	return p.Credential(), nil
}

// GotIP is the IP_EVENT/STA_GOT_IP payload.
type GotIP struct {
	IP      [4]byte
	Netmask [4]byte
	Gateway [4]byte
	Changed uint8
}

// GotIPSize is the encoded payload length.
var GotIPSize = binary.Size(GotIP{})

// NewGotIP builds a payload from IPv4 addresses. Non-IPv4 values encode as
// zero.
func NewGotIP(ip, mask, gw net.IP) GotIP {
	var p GotIP
	copy(p.IP[:], ip.To4())
	copy(p.Netmask[:], mask.To4())
	copy(p.Gateway[:], gw.To4())
	return p
}

func (p GotIP) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *GotIP) UnmarshalBinary(data []byte) error {
	if len(data) < GotIPSize {
		return fmt.Errorf("got ip: %d bytes, want %d: %w", len(data), GotIPSize, ErrBadPayload)
	}
	return binary.Read(bytes.NewReader(data[:GotIPSize]), binary.LittleEndian, p)
}

// Addr returns the assigned address.
func (p GotIP) Addr() net.IP { return net.IPv4(p.IP[0], p.IP[1], p.IP[2], p.IP[3]) }
