package main

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

const (
	adsMaxVoltage = 3300 * physic.MilliVolt
	adsDataRate   = 128 * physic.Hertz
)

var adsChannels = [...]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// gpioButton reads a pulled-up input pin through periph.
type gpioButton struct {
	pin gpio.PinIO
}

func openGPIOButton(name string) (*gpioButton, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s as pulled-up input: %w", name, err)
	}
	return &gpioButton{pin: p}, nil
}

func (b *gpioButton) Level() (bool, error) {
	return b.pin.Read() == gpio.High, nil
}

// adsJoystick samples one single-ended channel of an ADS1115 on I2C.
// Raw values are the converter's own scale (0-32767 single-ended).
type adsJoystick struct {
	bus i2c.BusCloser
	dev *ads1x15.Dev
	pin ads1x15.PinADC
}

func openADS1115(busName string, addr uint16, channel int) (*adsJoystick, error) {
	if channel < 0 || channel >= len(adsChannels) {
		return nil, fmt.Errorf("ads1115 channel %d out of range", channel)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	opts := ads1x15.DefaultOpts
	if addr != 0 {
		opts.I2cAddress = addr
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 at 0x%02x: %w", opts.I2cAddress, err)
	}

	pin, err := dev.PinForChannel(adsChannels[channel], adsMaxVoltage, adsDataRate, ads1x15.SaveEnergy)
	if err != nil {
		_ = dev.Halt()
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}

	return &adsJoystick{bus: bus, dev: dev, pin: pin}, nil
}

func (j *adsJoystick) ReadRaw() (uint16, error) {
	s, err := j.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("ads1115 read: %w", err)
	}
	if s.Raw < 0 {
		return 0, nil
	}
	return uint16(s.Raw), nil
}

func (j *adsJoystick) Close() error {
	return errors.Join(j.pin.Halt(), j.dev.Halt(), j.bus.Close())
}
