package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the picomon daemon.
//
// Defaults mirror the board constants in constants.go; a config file and flags
// may override them at startup. Nothing is reloaded at runtime.
type Config struct {
	WiFi    WiFiConfig    `yaml:"wifi"`
	HTTP    HTTPConfig    `yaml:"http"`
	Sensors SensorsConfig `yaml:"sensors"`
	IPC     IPCConfig     `yaml:"ipc"`
	Aux     AuxConfig     `yaml:"aux"`
	Logging LoggingConfig `yaml:"logging"`
}

type WiFiConfig struct {
	Driver        string `yaml:"driver"` // "networkmanager" or "none"
	Interface     string `yaml:"interface"`
	SSID          string `yaml:"ssid"`
	Passphrase    string `yaml:"passphrase"`
	JoinTimeoutMS int    `yaml:"join_timeout_ms"`
	RetryDelayMS  int    `yaml:"retry_delay_ms"`
}

type HTTPConfig struct {
	Listen         string `yaml:"listen"`
	RenderBuffer   int    `yaml:"render_buffer"`
	SendBuffer     int    `yaml:"send_buffer"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

type SensorsConfig struct {
	SampleIntervalMS int            `yaml:"sample_interval_ms"`
	Button           ButtonConfig   `yaml:"button"`
	Joystick         JoystickConfig `yaml:"joystick"`
	Serial           SerialConfig   `yaml:"serial"`
}

type ButtonConfig struct {
	Driver string `yaml:"driver"` // gpio | serial | sim
	Pin    string `yaml:"pin"`    // periph pin name, e.g. GPIO5
}

type JoystickConfig struct {
	Driver    string `yaml:"driver"` // ads1115 | iio | serial | sim
	Pin       int    `yaml:"pin"`
	Channel   int    `yaml:"channel"`
	I2CBus    string `yaml:"i2c_bus,omitempty"`
	I2CAddr   uint16 `yaml:"i2c_addr,omitempty"`
	IIODevice string `yaml:"iio_device,omitempty"`
}

// SerialConfig describes the bridge microcontroller link shared by the serial drivers.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"` // empty disables IPC
}

type AuxConfig struct {
	Listen string `yaml:"listen"` // empty disables /ws, /metrics and /healthz
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		WiFi: WiFiConfig{
			Driver:        defaultWiFiDriver,
			Interface:     defaultWiFiInterface,
			SSID:          defaultWiFiSSID,
			Passphrase:    defaultWiFiPassphrase,
			JoinTimeoutMS: defaultJoinTimeoutMS,
			RetryDelayMS:  defaultRetryDelayMS,
		},
		HTTP: HTTPConfig{
			Listen:         defaultHTTPListen,
			RenderBuffer:   defaultRenderBuffer,
			SendBuffer:     defaultSendBuffer,
			WriteTimeoutMS: defaultWriteTimeoutMS,
		},
		Sensors: SensorsConfig{
			SampleIntervalMS: defaultSampleInterval,
			Button: ButtonConfig{
				Driver: driverGPIO,
				Pin:    defaultButtonPin,
			},
			Joystick: JoystickConfig{
				Driver:    driverADS1115,
				Pin:       defaultJoystickPin,
				Channel:   defaultJoystickChan,
				I2CAddr:   defaultI2CAddr,
				IIODevice: defaultIIODevice,
			},
			Serial: SerialConfig{
				Port: defaultSerialPort,
				Baud: defaultSerialBaud,
			},
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults only.
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries values from command-line flags. A nil pointer means the
// flag was not set; a non-nil pointer is applied even if it holds a zero value.
type FlagOverrides struct {
	WiFiDriver     *string
	WiFiInterface  *string
	WiFiSSID       *string
	WiFiPassphrase *string

	HTTPListen *string

	ButtonDriver   *string
	ButtonPin      *string
	JoystickDriver *string
	JoystickChan   *int
	SerialPort     *string
	SampleInterval *int

	IPCSocketPath *string
	AuxListen     *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	setString(&cfg.WiFi.Driver, o.WiFiDriver)
	setString(&cfg.WiFi.Interface, o.WiFiInterface)
	setString(&cfg.WiFi.SSID, o.WiFiSSID)
	setString(&cfg.WiFi.Passphrase, o.WiFiPassphrase)

	setString(&cfg.HTTP.Listen, o.HTTPListen)

	setString(&cfg.Sensors.Button.Driver, o.ButtonDriver)
	setString(&cfg.Sensors.Button.Pin, o.ButtonPin)
	setString(&cfg.Sensors.Joystick.Driver, o.JoystickDriver)
	if o.JoystickChan != nil {
		cfg.Sensors.Joystick.Channel = *o.JoystickChan
	}
	setString(&cfg.Sensors.Serial.Port, o.SerialPort)
	if o.SampleInterval != nil {
		cfg.Sensors.SampleIntervalMS = *o.SampleInterval
	}

	setString(&cfg.IPC.SocketPath, o.IPCSocketPath)
	setString(&cfg.Aux.Listen, o.AuxListen)

	setString(&cfg.Logging.Level, o.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Wi-Fi
	switch c.WiFi.Driver {
	case wifiDriverNetworkManager:
		if c.WiFi.SSID == "" {
			return errors.New("wifi.ssid must not be empty")
		}
		if n := len(c.WiFi.Passphrase); n < 8 || n > 63 {
			return errors.New("wifi.passphrase must be 8-63 characters for WPA2")
		}
	case wifiDriverNone:
	default:
		return fmt.Errorf("wifi.driver must be %q or %q", wifiDriverNetworkManager, wifiDriverNone)
	}
	if c.WiFi.Interface == "" {
		return errors.New("wifi.interface must not be empty")
	}
	if c.WiFi.JoinTimeoutMS <= 0 {
		return errors.New("wifi.join_timeout_ms must be > 0")
	}
	if c.WiFi.RetryDelayMS < 0 {
		return errors.New("wifi.retry_delay_ms must be >= 0")
	}

	// HTTP
	if c.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty")
	}
	if c.HTTP.RenderBuffer <= 0 {
		return errors.New("http.render_buffer must be > 0")
	}
	if c.HTTP.SendBuffer < c.HTTP.RenderBuffer {
		return errors.New("http.send_buffer must be >= http.render_buffer")
	}
	if c.HTTP.WriteTimeoutMS <= 0 {
		return errors.New("http.write_timeout_ms must be > 0")
	}

	// Sensors
	if c.Sensors.SampleIntervalMS <= 0 || c.Sensors.SampleIntervalMS > 60000 {
		return errors.New("sensors.sample_interval_ms must be between 1 and 60000")
	}
	switch c.Sensors.Button.Driver {
	case driverGPIO:
		if c.Sensors.Button.Pin == "" {
			return errors.New("sensors.button.pin must not be empty for the gpio driver")
		}
	case driverSerial, driverSim:
	default:
		return fmt.Errorf("sensors.button.driver must be one of: %s, %s, %s", driverGPIO, driverSerial, driverSim)
	}
	switch c.Sensors.Joystick.Driver {
	case driverADS1115:
		if c.Sensors.Joystick.Channel < 0 || c.Sensors.Joystick.Channel > 3 {
			return errors.New("sensors.joystick.channel must be between 0 and 3 for the ads1115 driver")
		}
	case driverIIO:
		if c.Sensors.Joystick.IIODevice == "" {
			return errors.New("sensors.joystick.iio_device must not be empty for the iio driver")
		}
		if c.Sensors.Joystick.Channel < 0 {
			return errors.New("sensors.joystick.channel must be >= 0")
		}
	case driverSerial, driverSim:
	default:
		return fmt.Errorf("sensors.joystick.driver must be one of: %s, %s, %s, %s", driverADS1115, driverIIO, driverSerial, driverSim)
	}
	if c.usesSerial() {
		if c.Sensors.Serial.Port == "" {
			return errors.New("sensors.serial.port must not be empty when a serial driver is selected")
		}
		if c.Sensors.Serial.Baud <= 0 {
			return errors.New("sensors.serial.baud must be > 0")
		}
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (c *Config) usesSerial() bool {
	return c.Sensors.Button.Driver == driverSerial || c.Sensors.Joystick.Driver == driverSerial
}

func (c *Config) usesSim() bool {
	return c.Sensors.Button.Driver == driverSim || c.Sensors.Joystick.Driver == driverSim
}

func (c *Config) sampleInterval() time.Duration {
	return time.Duration(c.Sensors.SampleIntervalMS) * time.Millisecond
}

// ToBootstrapConfig converts the file-level Wi-Fi section into bootstrap parameters.
func (c *Config) ToBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		SSID:        c.WiFi.SSID,
		Passphrase:  c.WiFi.Passphrase,
		JoinTimeout: time.Duration(c.WiFi.JoinTimeoutMS) * time.Millisecond,
		RetryDelay:  time.Duration(c.WiFi.RetryDelayMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
