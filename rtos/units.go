package rtos

import "math"

// TickRate is a scheduler tick frequency in Hz.
type TickRate uint32

// PlatformTickRate is the tick frequency the firmware is built for.
const PlatformTickRate TickRate = 100

// Period returns the tick period in milliseconds, at least 1.
func (r TickRate) Period() uint32 {
	if r == 0 || r > 1000 {
		return 1
	}
	return 1000 / uint32(r)
}

// Milliseconds converts ms to ticks, rounding up so a delay is never shorter
// than requested.
func (r TickRate) Milliseconds(ms uint32) Duration {
	p := uint64(r.Period())
	ticks := (uint64(ms) + p - 1) / p
	return Duration{ticks: uint32(ticks)}
}

// ToMilliseconds converts d back to milliseconds, saturating at MaxUint32.
func (r TickRate) ToMilliseconds(d Duration) uint32 {
	ms := uint64(d.ticks) * uint64(r.Period())
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

// Duration is a span of scheduler ticks.
type Duration struct {
	ticks uint32
}

// Milliseconds returns a duration of at least ms at the platform tick rate.
// Use Runtime.Milliseconds when the scheduler may run at another rate.
func Milliseconds(ms uint32) Duration { return PlatformTickRate.Milliseconds(ms) }

// Ticks returns a duration of n ticks.
func Ticks(n uint32) Duration { return Duration{ticks: n} }

// Infinite blocks without a timeout.
func Infinite() Duration { return Duration{ticks: math.MaxUint32} }

// Zero is used for calls that must not block.
func Zero() Duration { return Duration{} }

// Epsilon is the smallest positive duration, one tick.
func Epsilon() Duration { return Duration{ticks: 1} }

// Ticks returns the number of ticks in d.
func (d Duration) Ticks() uint32 { return d.ticks }

// Milliseconds converts d at the platform tick rate.
func (d Duration) Milliseconds() uint32 { return PlatformTickRate.ToMilliseconds(d) }

// IsInfinite reports whether d is Infinite().
func (d Duration) IsInfinite() bool { return d.ticks == math.MaxUint32 }

// IsZero reports whether d is zero ticks.
func (d Duration) IsZero() bool { return d.ticks == 0 }
