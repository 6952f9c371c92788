package main

import (
	"errors"
	"log/slog"
	"time"
)

// Sensor driver names accepted in sensors.button.driver / sensors.joystick.driver.
const (
	driverGPIO    = "gpio"
	driverADS1115 = "ads1115"
	driverIIO     = "iio"
	driverSerial  = "serial"
	driverSim     = "sim"
)

// errNoSample is returned by inputs that have not produced a reading yet.
var errNoSample = errors.New("no sample available yet")

// DigitalInput reads the raw level of one input pin (true = high).
type DigitalInput interface {
	Level() (bool, error)
}

// AnalogInput performs one conversion on a preselected ADC channel.
type AnalogInput interface {
	ReadRaw() (uint16, error)
}

// Sampler reads the joystick axis and the button once per main loop pass.
type Sampler struct {
	button   DigitalInput
	joystick AnalogInput
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSampler builds a sampler. metrics may be nil.
func NewSampler(button DigitalInput, joystick AnalogInput, metrics *Metrics, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = discardLogger()
	}
	return &Sampler{
		button:   button,
		joystick: joystick,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Sample overwrites state with fresh readings. A failed read keeps the
// previous value for that field.
func (s *Sampler) Sample(state *SensorState) {
	if raw, err := s.joystick.ReadRaw(); err != nil {
		s.readFailed("joystick", err)
	} else {
		state.JoystickX = raw
	}

	if level, err := s.button.Level(); err != nil {
		s.readFailed("button", err)
	} else {
		state.ButtonPressed = !level
	}

	state.SampledAt = s.now()
	s.metrics.observeSample(state)
}

func (s *Sampler) readFailed(input string, err error) {
	s.metrics.sampleError(input)
	if errors.Is(err, errNoSample) {
		s.logger.Debug("sensor not ready", "input", input)
		return
	}
	s.logger.Warn("sensor read failed", "input", input, "error", err)
}
