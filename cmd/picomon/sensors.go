package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// sensorSet is the opened pair of inputs plus whatever must be closed on exit.
type sensorSet struct {
	button   DigitalInput
	joystick AnalogInput

	// sim is non-nil when either input uses the sim driver.
	sim *SimInputs

	closers []io.Closer
}

// openSensors opens the configured button and joystick drivers.
// A serial bridge is opened once and shared when both inputs use it.
func openSensors(cfg SensorsConfig, logger *slog.Logger) (_ *sensorSet, err error) {
	set := &sensorSet{}
	defer func() {
		if err != nil {
			_ = set.Close()
		}
	}()

	var bridge *Bridge
	openBridge := func() (*Bridge, error) {
		if bridge != nil {
			return bridge, nil
		}
		b, err := OpenBridge(cfg.Serial.Port, cfg.Serial.Baud, logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, b)
		bridge = b
		return b, nil
	}
	sim := func() *SimInputs {
		if set.sim == nil {
			set.sim = NewSimInputs()
		}
		return set.sim
	}

	switch cfg.Button.Driver {
	case driverGPIO:
		b, err := openGPIOButton(cfg.Button.Pin)
		if err != nil {
			return nil, fmt.Errorf("button: %w", err)
		}
		set.button = b
	case driverSerial:
		b, err := openBridge()
		if err != nil {
			return nil, fmt.Errorf("button: %w", err)
		}
		set.button = b.Button()
	case driverSim:
		set.button = sim()
	default:
		return nil, fmt.Errorf("button: unknown driver %q", cfg.Button.Driver)
	}

	switch cfg.Joystick.Driver {
	case driverADS1115:
		j, err := openADS1115(cfg.Joystick.I2CBus, cfg.Joystick.I2CAddr, cfg.Joystick.Channel)
		if err != nil {
			return nil, fmt.Errorf("joystick: %w", err)
		}
		set.closers = append(set.closers, j)
		set.joystick = j
	case driverIIO:
		j, err := openIIOChannel(cfg.Joystick.IIODevice, cfg.Joystick.Channel)
		if err != nil {
			return nil, fmt.Errorf("joystick: %w", err)
		}
		set.joystick = j
	case driverSerial:
		b, err := openBridge()
		if err != nil {
			return nil, fmt.Errorf("joystick: %w", err)
		}
		set.joystick = b.Joystick()
	case driverSim:
		set.joystick = sim()
	default:
		return nil, fmt.Errorf("joystick: unknown driver %q", cfg.Joystick.Driver)
	}

	logger.Info("sensors ready",
		"button_driver", cfg.Button.Driver,
		"joystick_driver", cfg.Joystick.Driver)
	return set, nil
}

// Close releases every opened driver.
func (s *sensorSet) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// ============================================================================
// Simulated inputs
// ============================================================================

// SimInputs is an in-process button pin and ADC channel, driven over IPC.
// The pin idles high (released) like the pulled-up hardware pin.
type SimInputs struct {
	level atomic.Bool
	raw   atomic.Uint32
}

func NewSimInputs() *SimInputs {
	s := &SimInputs{}
	s.level.Store(true)
	return s
}

// Level returns the simulated raw pin level.
func (s *SimInputs) Level() (bool, error) { return s.level.Load(), nil }

// ReadRaw returns the simulated conversion result.
func (s *SimInputs) ReadRaw() (uint16, error) { return uint16(s.raw.Load()), nil }

// SetPressed drives the pin low while pressed.
func (s *SimInputs) SetPressed(pressed bool) { s.level.Store(!pressed) }

// SetRaw sets the next conversion result.
func (s *SimInputs) SetRaw(v uint16) { s.raw.Store(uint32(v)) }
