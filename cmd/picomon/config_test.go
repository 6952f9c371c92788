package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "picomon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultWiFiSSID, cfg.WiFi.SSID)
	assert.Equal(t, ":80", cfg.HTTP.Listen)
	assert.Equal(t, 4096, cfg.HTTP.RenderBuffer)
	assert.Equal(t, driverGPIO, cfg.Sensors.Button.Driver)
	assert.Equal(t, driverADS1115, cfg.Sensors.Joystick.Driver)
	assert.Equal(t, 1, cfg.Sensors.Joystick.Channel)
	assert.Equal(t, time.Second, cfg.sampleInterval())
	assert.Empty(t, cfg.Aux.Listen, "aux server is opt-in")
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
wifi:
  driver: none
http:
  listen: ":8080"
sensors:
  button:
    driver: sim
  joystick:
    driver: sim
aux:
  listen: "127.0.0.1:9090"
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, wifiDriverNone, cfg.WiFi.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, driverSim, cfg.Sensors.Button.Driver)
	assert.True(t, cfg.usesSim())
	assert.False(t, cfg.usesSerial())
	assert.Equal(t, "127.0.0.1:9090", cfg.Aux.Listen)

	// Untouched sections keep their defaults.
	assert.Equal(t, defaultRenderBuffer, cfg.HTTP.RenderBuffer)
	assert.Equal(t, defaultIPCSocket, cfg.IPC.SocketPath)
}

func TestLoadConfigFile_RejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "http:\n  listne: \":8080\"\n")
	_, err := LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listne")
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "http:\n  listen: \":8080\"\n---\nhttp:\n  listen: \":9090\"\n")
	_, err := LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing document")
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFlagOverrides_ApplyOnlySetFields(t *testing.T) {
	cfg := DefaultConfig()
	listen := ":8081"
	chanNum := 0
	empty := ""

	FlagOverrides{
		HTTPListen:    &listen,
		JoystickChan:  &chanNum,
		IPCSocketPath: &empty,
	}.Apply(&cfg)

	assert.Equal(t, ":8081", cfg.HTTP.Listen)
	assert.Equal(t, 0, cfg.Sensors.Joystick.Channel, "zero values are applied when set")
	assert.Empty(t, cfg.IPC.SocketPath)
	assert.Equal(t, defaultWiFiSSID, cfg.WiFi.SSID, "unset flags leave the config alone")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"short passphrase", func(c *Config) { c.WiFi.Passphrase = "short" }, "wifi.passphrase"},
		{"long passphrase", func(c *Config) { c.WiFi.Passphrase = string(make([]byte, 64)) }, "wifi.passphrase"},
		{"unknown wifi driver", func(c *Config) { c.WiFi.Driver = "wpa_supplicant" }, "wifi.driver"},
		{"send below render", func(c *Config) { c.HTTP.SendBuffer = c.HTTP.RenderBuffer - 1 }, "http.send_buffer"},
		{"zero interval", func(c *Config) { c.Sensors.SampleIntervalMS = 0 }, "sample_interval_ms"},
		{"huge interval", func(c *Config) { c.Sensors.SampleIntervalMS = 60001 }, "sample_interval_ms"},
		{"bad button driver", func(c *Config) { c.Sensors.Button.Driver = "evdev" }, "sensors.button.driver"},
		{"bad ads channel", func(c *Config) { c.Sensors.Joystick.Channel = 4 }, "sensors.joystick.channel"},
		{"serial without port", func(c *Config) {
			c.Sensors.Button.Driver = driverSerial
			c.Sensors.Serial.Port = ""
		}, "sensors.serial.port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_NoneDriverSkipsPassphrase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WiFi.Driver = wifiDriverNone
	cfg.WiFi.Passphrase = ""
	assert.NoError(t, cfg.Validate())
}

func TestToBootstrapConfig(t *testing.T) {
	cfg := DefaultConfig()
	bc := cfg.ToBootstrapConfig()
	assert.Equal(t, 20*time.Second, bc.JoinTimeout)
	assert.Equal(t, 100*time.Millisecond, bc.RetryDelay)
	assert.Equal(t, cfg.WiFi.SSID, bc.SSID)
}

func TestLoadConfigFile_EmptyFileYieldsDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
