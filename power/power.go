// Package power drives the modem power key over a GPIO line.
package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ltelink/timers"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPulse is long enough for the modems we drive to register a power
// key press.
const DefaultPulse = time.Second

var ErrPinNotFound = errors.New("power: GPIO pin not found")

// Pulse drives p high for d and releases it. The pin is released even when
// ctx ends the pulse early.
func Pulse(ctx context.Context, p gpio.PinOut, d time.Duration) error {
	if err := p.Out(gpio.High); err != nil {
		return fmt.Errorf("power: %s high: %w", p, err)
	}
	timers.SleepWithContext(d, ctx)
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("power: %s low: %w", p, err)
	}
	return ctx.Err()
}

// PulseKey pulses the named pin, e.g. "GPIO23".
func PulseKey(ctx context.Context, name string, d time.Duration) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("power: host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return Pulse(ctx, p, d)
}
