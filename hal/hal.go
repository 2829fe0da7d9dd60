package hal

import (
	"smartcfg/event"
	"smartcfg/rtos"
	"smartcfg/wifi"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// Bus accepts events for the system event loop. *event.Loop implements it.
type Bus interface {
	Post(base event.Base, id int32, data []byte, timeout rtos.Duration) error
}

// Radio is the Wi-Fi hardware: a station interface and a SmartConfig
// service. Both report progress as events posted to the attached bus.
type Radio interface {
	// Attach sets the bus events are posted to. It must be called before the
	// station is started.
	Attach(bus Bus)
	Station() wifi.Station
	SmartConfig() wifi.SmartConfig
}

// HAL provides the only contact point between the firmware and the outside world.
type HAL interface {
	Logger() Logger
	Scheduler() rtos.Scheduler
	Radio() Radio
}
