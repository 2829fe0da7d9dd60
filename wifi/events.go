package wifi

import "smartcfg/event"

// Event bases posted by the network stack and the SmartConfig service.
const (
	EventBase   event.Base = "WIFI_EVENT"
	IPEventBase event.Base = "IP_EVENT"
	SCEventBase event.Base = "SC_EVENT"
)

// WIFI_EVENT ids.
const (
	EventWifiReady       int32 = 0
	EventScanDone        int32 = 1
	EventStaStart        int32 = 2
	EventStaStop         int32 = 3
	EventStaConnected    int32 = 4
	EventStaDisconnected int32 = 5
)

// IP_EVENT ids.
const (
	IPEventStaGotIP  int32 = 0
	IPEventStaLostIP int32 = 1
)

// SC_EVENT ids.
const (
	SCEventScanDone     int32 = 0
	SCEventFoundChannel int32 = 1
	SCEventGotSSIDPswd  int32 = 2
	SCEventSendAckDone  int32 = 3
)
