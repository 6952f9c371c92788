package main

import "time"

// SensorState holds the two live readings shown on the status page.
//
// It is owned by the main loop goroutine: the sampler writes it and the
// responder reads it, both from inside the loop, so no locking is needed.
// Other goroutines only ever see a StateSnapshot copy.
type SensorState struct {
	// ButtonPressed is the negation of the raw pin level (pin is pulled high).
	ButtonPressed bool

	// JoystickX is the raw ADC conversion result, unscaled.
	JoystickX uint16

	// SampledAt is when the last sampling pass ran. Zero until the first pass.
	SampledAt time.Time
}

// StateSnapshot is an immutable copy of SensorState handed to other goroutines.
type StateSnapshot struct {
	ButtonPressed bool      `json:"button_pressed"`
	JoystickX     uint16    `json:"joystick_x"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Snapshot copies the state.
func (s *SensorState) Snapshot() StateSnapshot {
	return StateSnapshot{
		ButtonPressed: s.ButtonPressed,
		JoystickX:     s.JoystickX,
		SampledAt:     s.SampledAt,
	}
}

// sameReadings reports whether the rendered fields are unchanged.
func (s StateSnapshot) sameReadings(o StateSnapshot) bool {
	return s.ButtonPressed == o.ButtonPressed && s.JoystickX == o.JoystickX
}

// buttonValue renders the button the way the page shows it: 1 pressed, 0 released.
func (s StateSnapshot) buttonValue() int {
	if s.ButtonPressed {
		return 1
	}
	return 0
}

// StateBroadcast is a marker interface for loop-emitted state notifications.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSensorChanged is emitted when a sampling pass changes a reading.
type BroadcastSensorChanged struct {
	State StateSnapshot
	At    time.Time
}

func (BroadcastSensorChanged) broadcastMarker() {}
