package main

import "time"

// Wireless network defaults
const (
	defaultWiFiSSID       = "ALCL-9D58"
	defaultWiFiPassphrase = "xxxxxxxxxx"
	defaultWiFiInterface  = "wlan0"
	defaultWiFiDriver     = "networkmanager"

	defaultJoinTimeoutMS = 20000 // Association timeout per attempt (ms)
	defaultRetryDelayMS  = 100   // Delay between init/join attempts (ms)
)

// Status page defaults
const (
	defaultHTTPListen     = ":80"
	defaultRenderBuffer   = 4096 // Bound for the rendered response, headers included
	defaultWriteTimeoutMS = 5000 // Deadline for flushing a response to the peer (ms)
	defaultSendBuffer     = 8192 // Per-connection send queue bound (bytes)
	defaultSegmentSize    = 1460 // Read size per received segment (bytes)

	// Only the request line matters; everything else is dropped.
	rootRequestPrefix = "GET / "
)

// Sensor defaults (BCM/RP2040 numbering)
const (
	defaultButtonPin      = "GPIO5" // BTN_A, pulled up, active low
	defaultJoystickPin    = 27      // JS_x
	defaultJoystickChan   = 1       // ADC channel routed to JS_x
	defaultSampleInterval = 1000    // Main loop wait bound (ms)

	defaultI2CAddr       = 0x48
	defaultIIODevice     = "/sys/bus/iio/devices/iio:device0"
	defaultSerialPort    = "/dev/ttyACM0"
	defaultSerialBaud    = 115200
	defaultADCResolution = 12 // bits; raw values are 0-4095
)

// IPC and auxiliary server defaults
const (
	defaultIPCSocket = "/tmp/picomon.sock"
	defaultLogLevel  = "info"

	snapshotTimeout = time.Second
	shutdownTimeout = 3 * time.Second
)
