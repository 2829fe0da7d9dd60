//go:build !tinygo

package hal

import (
	"go.uber.org/zap"

	"smartcfg/kernel"
	"smartcfg/rtos"
)

// HostConfig configures the host HAL.
type HostConfig struct {
	Logger *zap.Logger
	Kernel kernel.Config
	Radio  SimConfig
}

type hostHAL struct {
	logger *hostLogger
	kernel *kernel.Kernel
	radio  *SimRadio
}

// New returns a host HAL: a goroutine-backed kernel, a simulated radio and
// a log sink that writes through zap.
func New(cfg HostConfig) HAL {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	kcfg := cfg.Kernel
	if kcfg.Logger == nil {
		kcfg.Logger = log
	}
	return &hostHAL{
		logger: &hostLogger{log: log.Named("device").WithOptions(zap.WithCaller(false))},
		kernel: kernel.New(kcfg),
		radio:  NewSimRadio(cfg.Radio, log),
	}
}

func (h *hostHAL) Logger() Logger            { return h.logger }
func (h *hostHAL) Scheduler() rtos.Scheduler { return h.kernel }
func (h *hostHAL) Radio() Radio              { return h.radio }

// hostLogger is the device console. Lines are emitted at info level.
type hostLogger struct {
	log *zap.Logger
}

func (l *hostLogger) WriteLineString(s string) { l.log.Info(s) }

func (l *hostLogger) WriteLineBytes(b []byte) { l.log.Info(string(b)) }
