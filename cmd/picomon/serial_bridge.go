package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"
)

// Bridge reads "<pin_level>,<adc_raw>\n" lines streamed by a microcontroller
// (see firmware/bridge) and keeps the latest one. The sampler reads that
// latest line; it never blocks on the serial port.
type Bridge struct {
	rc     io.ReadCloser
	logger *slog.Logger

	// latest packs one line so level and raw are always read as a pair:
	// bit 31 = a line has arrived, bit 16 = pin level, bits 0-15 = raw.
	latest atomic.Uint32
	closed atomic.Bool
	done   chan struct{}
}

const (
	bridgeHave  = 1 << 31
	bridgeLevel = 1 << 16
)

// bridgeSample is one parsed bridge line.
type bridgeSample struct {
	Level bool
	Raw   uint16
}

// OpenBridge opens the serial port and starts reading lines.
func OpenBridge(port string, baud int, logger *slog.Logger) (*Bridge, error) {
	if baud == 0 {
		baud = defaultSerialBaud
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	logger.Info("serial bridge opened", "port", port, "baud", baud)
	return newBridge(p, logger), nil
}

func newBridge(rc io.ReadCloser, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = discardLogger()
	}
	b := &Bridge{
		rc:     rc,
		logger: logger,
		done:   make(chan struct{}),
	}
	go b.readLines()
	return b
}

func (b *Bridge) readLines() {
	defer close(b.done)

	scanner := bufio.NewScanner(b.rc)
	for scanner.Scan() {
		s, err := parseBridgeLine(scanner.Text())
		if err != nil {
			b.logger.Debug("skipping bridge line", "error", err)
			continue
		}
		b.latest.Store(s.pack())
	}

	if err := scanner.Err(); err != nil && !b.closed.Load() {
		b.logger.Error("serial bridge reader stopped", "error", err)
	}
}

func (s bridgeSample) pack() uint32 {
	v := uint32(bridgeHave) | uint32(s.Raw)
	if s.Level {
		v |= bridgeLevel
	}
	return v
}

// parseBridgeLine parses "<0|1>,<raw>" with optional surrounding whitespace.
func parseBridgeLine(line string) (bridgeSample, error) {
	line = strings.TrimSpace(line)
	levelStr, rawStr, ok := strings.Cut(line, ",")
	if !ok {
		return bridgeSample{}, fmt.Errorf("invalid bridge line %q: missing comma", line)
	}

	var s bridgeSample
	switch strings.TrimSpace(levelStr) {
	case "0":
		s.Level = false
	case "1":
		s.Level = true
	default:
		return bridgeSample{}, fmt.Errorf("invalid pin level %q", levelStr)
	}

	raw, err := strconv.ParseUint(strings.TrimSpace(rawStr), 10, 16)
	if err != nil {
		return bridgeSample{}, fmt.Errorf("invalid adc value %q: %w", rawStr, err)
	}
	s.Raw = uint16(raw)
	return s, nil
}

// Button returns the bridge's pin level as a DigitalInput.
func (b *Bridge) Button() DigitalInput { return bridgeButton{b} }

// Joystick returns the bridge's ADC value as an AnalogInput.
func (b *Bridge) Joystick() AnalogInput { return bridgeJoystick{b} }

// Close closes the port and waits for the reader to exit.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.rc.Close()
	<-b.done
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close serial bridge: %w", err)
	}
	return nil
}

type bridgeButton struct{ b *Bridge }

func (i bridgeButton) Level() (bool, error) {
	v := i.b.latest.Load()
	if v&bridgeHave == 0 {
		return false, errNoSample
	}
	return v&bridgeLevel != 0, nil
}

type bridgeJoystick struct{ b *Bridge }

func (i bridgeJoystick) ReadRaw() (uint16, error) {
	v := i.b.latest.Load()
	if v&bridgeHave == 0 {
		return 0, errNoSample
	}
	return uint16(v), nil
}
