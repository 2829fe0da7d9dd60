package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartcfg/metrics"
	"smartcfg/rtos"
)

// runHeartbeat prints the loop count and stack high-water mark every period
// until it is notified to stop.
func (s *System) runHeartbeat(period rtos.Duration, m *metrics.Metrics) {
	self, err := s.rt.Current()
	if err != nil {
		s.log.Error("heartbeat outside a task", zap.Error(err))
		return
	}
	sink := s.h.Logger()

	for n := 1; ; n++ {
		hwm := self.StackHighWaterMark()
		sink.WriteLineString(fmt.Sprintf("loop %d stack_hw_mark: %d", n, hwm))
		if m != nil {
			m.Heartbeat("heartbeat", hwm)
		}

		bits, err := self.WaitForNotification(0, ^uint32(0), period)
		switch {
		case errors.Is(err, rtos.ErrTimeout):
			continue
		case err != nil:
			s.log.Error("heartbeat wait", zap.Error(err))
			return
		}
		if bits&notifyProvisioned != 0 {
			sink.WriteLineString("provisioning complete")
		}
		if bits&notifyStop != 0 {
			return
		}
	}
}
