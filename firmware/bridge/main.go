//go:build tinygo

//go:generate tinygo flash -target=pico

// Command bridge streams the RP2040 button level and joystick ADC reading
// to the host as "level,raw" lines for the picomon serial drivers.
package main

import (
	"machine"
	"strconv"
	"time"
)

var (
	button   = PIN_BUTTON
	joystick machine.ADC
	out      = machine.Serial

	line [16]byte
)

func main() {
	button.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	machine.InitADC()
	joystick = machine.ADC{Pin: PIN_JOYSTICK_X}
	joystick.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	out.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	for {
		writeSample(button.Get(), readRaw())
		time.Sleep(SAMPLE_INTERVAL_MS * time.Millisecond)
	}
}

// readRaw returns the conversion at ADC_RESOLUTION bits. TinyGo scales
// ADC.Get to 16 bits.
func readRaw() uint16 {
	return joystick.Get() >> (16 - ADC_RESOLUTION)
}

func writeSample(level bool, raw uint16) {
	b := line[:0]
	if level {
		b = append(b, '1')
	} else {
		b = append(b, '0')
	}
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(raw), 10)
	b = append(b, '\n')
	out.Write(b)
}
