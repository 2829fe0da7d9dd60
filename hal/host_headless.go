//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the host runner.
type HeadlessConfig struct {
	// Hz is the step rate.
	Hz int
	// Ticks stops the runner after this many steps; 0 runs until ctx is done.
	Ticks uint64
}

// App is an application booted by RunHeadless.
type App interface {
	// Step runs periodic housekeeping on the runner goroutine.
	Step() error
	Close()
}

// RunHeadless boots an application on a host HAL and steps it at cfg.Hz
// until ctx is done, a step fails or cfg.Ticks steps have run.
func RunHeadless(ctx context.Context, hcfg HostConfig, newApp func(HAL) (App, error), cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 10
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h := New(hcfg)
	a, err := newApp(h)
	if err != nil {
		return err
	}
	defer a.Close()

	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := a.Step(); err != nil {
				return err
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
