package config

import (
	"fmt"

	"smartcfg/wifi"
)

// ParseProtocol maps a provisioning.protocol value to a SmartConfig type.
// The empty string selects ESPTouch.
func ParseProtocol(s string) (wifi.SmartConfigType, error) {
	switch s {
	case "", "esptouch":
		return wifi.SmartConfigESPTouch, nil
	case "airkiss":
		return wifi.SmartConfigAirKiss, nil
	case "esptouch+airkiss":
		return wifi.SmartConfigESPTouchAirKiss, nil
	case "esptouch-v2":
		return wifi.SmartConfigESPTouchV2, nil
	default:
		return 0, fmt.Errorf("invalid provisioning.protocol: %q", s)
	}
}
