package provision

import (
	"smartcfg/event"
	"smartcfg/wifi"
)

// kind is an (event base, id) pair the handler acts on.
type kind uint8

const (
	kindIgnored kind = iota
	kindStaStart
	kindStaDisconnected
	kindGotIP
	kindScanDone
	kindFoundChannel
	kindGotCredential
	kindAckDone
)

func (k kind) String() string {
	switch k {
	case kindStaStart:
		return "sta_start"
	case kindStaDisconnected:
		return "sta_disconnected"
	case kindGotIP:
		return "got_ip"
	case kindScanDone:
		return "scan_done"
	case kindFoundChannel:
		return "found_channel"
	case kindGotCredential:
		return "got_ssid_pswd"
	case kindAckDone:
		return "send_ack_done"
	default:
		return "ignored"
	}
}

func classify(base event.Base, id int32) kind {
	switch base {
	case wifi.EventBase:
		switch id {
		case wifi.EventStaStart:
			return kindStaStart
		case wifi.EventStaDisconnected:
			return kindStaDisconnected
		}
	case wifi.IPEventBase:
		if id == wifi.IPEventStaGotIP {
			return kindGotIP
		}
	case wifi.SCEventBase:
		switch id {
		case wifi.SCEventScanDone:
			return kindScanDone
		case wifi.SCEventFoundChannel:
			return kindFoundChannel
		case wifi.SCEventGotSSIDPswd:
			return kindGotCredential
		case wifi.SCEventSendAckDone:
			return kindAckDone
		}
	}
	return kindIgnored
}
