//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smartcfg/app"
	"smartcfg/config"
	"smartcfg/hal"
	"smartcfg/internal/buildinfo"
	"smartcfg/internal/logging"
	"smartcfg/kernel"
	"smartcfg/metrics"
	"smartcfg/rtos"
)

func main() {
	var (
		configPath  string
		logLevel    string
		metricsAddr string
		headless    hal.HeadlessConfig
		version     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file.")
	flag.StringVar(&logLevel, "log-level", "", "Override log.level.")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Override metrics_addr (e.g. :9102).")
	flag.IntVar(&headless.Hz, "hz", 10, "Host runner step rate.")
	flag.Uint64Var(&headless.Ticks, "ticks", 0, "Stop after N steps (0 = run forever).")
	flag.BoolVar(&version, "version", false, "Print version and exit.")
	flag.Parse()

	if version {
		fmt.Printf("smartcfg %s (commit %s, built %s)\n", buildinfo.Short(), buildinfo.Commit, buildinfo.Date)
		return
	}

	if err := run(configPath, logLevel, metricsAddr, headless); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, metricsAddr string, headless hal.HeadlessConfig) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	acfg, err := appConfig(cfg, log, m)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	hcfg := hal.HostConfig{
		Logger: log,
		Kernel: kernel.Config{
			TickRateHz:    cfg.Kernel.TickRateHz,
			HeapBytes:     cfg.Kernel.HeapBytes,
			MaxPriorities: cfg.Kernel.MaxPriorities,
		},
		Radio: hal.SimConfig{
			Kind:      hal.RadioKind(cfg.Radio.Kind),
			SSID:      cfg.Radio.SSID,
			Password:  cfg.Radio.Password,
			BSSID:     cfg.Radio.BSSID,
			IP:        cfg.Radio.IP,
			StepDelay: cfg.Radio.StepDelay(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return hal.RunHeadless(ctx, hcfg, func(h hal.HAL) (hal.App, error) {
		if k, ok := h.Scheduler().(metrics.Scheduler); ok {
			if err := m.WatchScheduler(k); err != nil {
				return nil, err
			}
		}
		return app.New(h, acfg)
	}, headless)
}

func appConfig(c *config.Config, log *zap.Logger, m *metrics.Metrics) (app.Config, error) {
	acfg := app.DefaultConfig()
	acfg.Logger = log
	acfg.Metrics = m
	acfg.Heartbeat = time.Duration(c.HeartbeatMS) * time.Millisecond
	acfg.Halt = func() {
		_ = log.Sync()
		os.Exit(2)
	}

	p := c.Provisioning
	proto, err := config.ParseProtocol(p.Protocol)
	if err != nil {
		return acfg, err
	}
	acfg.Provisioning.WorkerName = p.WorkerName
	acfg.Provisioning.WorkerStack = p.WorkerStack
	acfg.Provisioning.WorkerPriority = rtos.TaskPriority(p.WorkerPriority)
	acfg.Provisioning.Protocol = proto
	if p.WorkerCore < 0 {
		acfg.Provisioning.WorkerAffinity = rtos.NoAffinity
	} else {
		acfg.Provisioning.WorkerAffinity = rtos.Pinned(rtos.Core(p.WorkerCore))
	}
	return acfg, nil
}
