//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 100 // Line output interval in milliseconds

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// BTN_A, pulled up, reads low while pressed
	PIN_BUTTON = machine.GP5

	// JS_x, routed to ADC1
	PIN_JOYSTICK_X = machine.GP27

	// Serial configuration
	// Format "level,raw\n", e.g. "1,2048\n" = 7 bytes max per line.
	// 10 lines/sec is far below USB CDC throughput; the baud only matters
	// when the bridge is wired to a UART adapter instead.
	UART_BAUD_RATE = 115200
)
