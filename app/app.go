package app

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartcfg/event"
	"smartcfg/hal"
	"smartcfg/internal/buildinfo"
	"smartcfg/metrics"
	"smartcfg/provision"
	"smartcfg/rtos"
)

// Heartbeat notification bits.
const (
	notifyStop        uint32 = 1 << 0
	notifyProvisioned uint32 = 1 << 1
)

type Config struct {
	Loop         event.LoopConfig
	Provisioning provision.Config

	// Heartbeat is the heartbeat task period; zero disables the task.
	Heartbeat time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Halt runs after panic diagnostics are written. The aborting task
	// blocks forever when it is nil or returns.
	Halt func()
}

// DefaultConfig returns the stock firmware configuration.
func DefaultConfig() Config {
	return Config{
		Loop:         event.DefaultLoopConfig(),
		Provisioning: provision.DefaultConfig(),
		Heartbeat:    time.Second,
	}
}

// System is a booted firmware instance.
type System struct {
	h    hal.HAL
	log  *zap.Logger
	rt   *rtos.Runtime
	loop *event.Loop
	prov *provision.Provisioner

	heartbeat *rtos.Task
	finished  chan provision.Report
	closeOnce sync.Once
}

// New boots the firmware on h: event loop, heartbeat task and SmartConfig
// provisioning. It returns once the station has been started.
func New(h hal.HAL, cfg Config) (*System, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	installPanicHandler(h, cfg.Halt)

	var opts []rtos.Option
	if cfg.Metrics != nil {
		opts = append(opts, rtos.WithStats(cfg.Metrics))
		cfg.Loop.Stats = cfg.Metrics
		cfg.Provisioning.Stats = cfg.Metrics
	}
	s := &System{
		h:        h,
		log:      log,
		rt:       rtos.New(h.Scheduler(), opts...),
		finished: make(chan provision.Report, 8),
	}

	sink := h.Logger()
	sink.WriteLineString(fmt.Sprintf("smartcfg %s boot=%s", buildinfo.Short(), buildinfo.BootID()))

	if cfg.Loop.Logger == nil {
		cfg.Loop.Logger = log
	}
	loop, err := event.NewLoop(s.rt, cfg.Loop)
	if err != nil {
		return nil, err
	}
	s.loop = loop

	if cfg.Heartbeat > 0 {
		period := s.rt.Milliseconds(uint32(cfg.Heartbeat.Milliseconds()))
		task, err := s.rt.NewTask().
			Name("heartbeat").
			Affinity(rtos.Pinned(rtos.CorePro)).
			Start(func() { s.runHeartbeat(period, cfg.Metrics) })
		if err != nil {
			loop.Close()
			return nil, err
		}
		s.heartbeat = &task
	}

	radio := h.Radio()
	radio.Attach(loop)

	pcfg := cfg.Provisioning
	pcfg.Sink = sink
	if pcfg.Logger == nil {
		pcfg.Logger = log
	}
	onFinished := pcfg.OnFinished
	pcfg.OnFinished = func(r provision.Report) {
		if onFinished != nil {
			onFinished(r)
		}
		s.provisioned(r)
	}
	prov, err := provision.New(s.rt, loop, radio.Station(), radio.SmartConfig(), pcfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.prov = prov
	if err := prov.Start(); err != nil {
		s.Close()
		return nil, err
	}
	log.Info("system started", zap.String("version", buildinfo.Short()), zap.String("boot_id", buildinfo.BootID()))
	return s, nil
}

// Run boots the firmware and blocks forever (TinyGo/native entrypoint).
func Run(h hal.HAL, cfg Config) error {
	if _, err := New(h, cfg); err != nil {
		return err
	}
	select {}
}

// Provisioner returns the provisioning state machine.
func (s *System) Provisioner() *provision.Provisioner { return s.prov }

// Finished delivers the report of every provisioning worker that ran to
// completion.
func (s *System) Finished() <-chan provision.Report { return s.finished }

// Step logs the provisioning reports delivered since the last step.
func (s *System) Step() error {
	for {
		select {
		case r := <-s.finished:
			s.log.Info("provisioned", zap.String("task", r.Task), zap.Uint32("bits", r.Bits), zap.Int("wakes", r.Wakes))
		default:
			return nil
		}
	}
}

// Close stops the heartbeat task and the event loop. Tasks already running
// are left to finish.
func (s *System) Close() {
	s.closeOnce.Do(func() {
		if s.heartbeat != nil {
			if err := s.heartbeat.Notify(rtos.SetBits(notifyStop)); err != nil {
				s.log.Debug("heartbeat already gone", zap.Error(err))
			}
		}
		s.loop.Close()
		if c, ok := s.h.Radio().(interface{ Close() }); ok {
			c.Close()
		}
	})
}

func (s *System) provisioned(r provision.Report) {
	if s.heartbeat != nil {
		if err := s.heartbeat.Notify(rtos.SetBits(notifyProvisioned)); err != nil {
			s.log.Warn("notify heartbeat", zap.Error(err))
		}
	}
	select {
	case s.finished <- r:
	default:
	}
}
