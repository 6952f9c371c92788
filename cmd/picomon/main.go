package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("picomon v%s\n", version)
	fmt.Println("Wi-Fi sensor monitor: serves a button and joystick reading over HTTP")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  picomon [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Joins a WPA2 network, then serves a self-refreshing status page on")
	fmt.Println("  GET / showing the left button state and the raw joystick X conversion.")
	fmt.Println("  Inputs are sampled once per loop pass; every other request is dropped.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file; flags override its values")
	fmt.Println()
	fmt.Println("  -wifi-driver string")
	fmt.Printf("        Network bootstrap driver: networkmanager|none (default %q)\n", defaultWiFiDriver)
	fmt.Println()
	fmt.Println("  -wifi-iface string")
	fmt.Printf("        Wireless interface (default %q)\n", defaultWiFiInterface)
	fmt.Println()
	fmt.Println("  -wifi-ssid string")
	fmt.Printf("        Network name (default %q)\n", defaultWiFiSSID)
	fmt.Println()
	fmt.Println("  -wifi-passphrase string")
	fmt.Println("        WPA2 passphrase, 8-63 characters")
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Printf("        Status page listen address (default %q)\n", defaultHTTPListen)
	fmt.Println()
	fmt.Println("  -button-driver string")
	fmt.Println("        Button input: gpio|serial|sim (default \"gpio\")")
	fmt.Println()
	fmt.Println("  -button-pin string")
	fmt.Printf("        GPIO pin name for the button (default %q)\n", defaultButtonPin)
	fmt.Println()
	fmt.Println("  -joystick-driver string")
	fmt.Println("        Joystick input: ads1115|iio|serial|sim (default \"ads1115\")")
	fmt.Println()
	fmt.Println("  -joystick-channel int")
	fmt.Printf("        ADC channel for the joystick X axis (default %d)\n", defaultJoystickChan)
	fmt.Println()
	fmt.Println("  -serial-port string")
	fmt.Printf("        Bridge microcontroller serial port (default %q)\n", defaultSerialPort)
	fmt.Println()
	fmt.Println("  -sample-interval-ms int")
	fmt.Printf("        Maximum time between sampling passes in ms (default %d)\n", defaultSampleInterval)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC, empty disables (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -aux-listen string")
	fmt.Println("        Listen address for /ws, /metrics and /healthz, empty disables (default \"\")")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Board defaults (NetworkManager, GPIO5 button, ADS1115 joystick)")
	fmt.Println("  picomon -wifi-ssid MyNet -wifi-passphrase secret123")
	fmt.Println()
	fmt.Println("  # Pico bridge on USB, host already online")
	fmt.Println("  picomon -wifi-driver none -button-driver serial -joystick-driver serial -serial-port /dev/ttyACM0")
	fmt.Println()
	fmt.Println("  # No hardware: simulated inputs driven by picomon-ctl")
	fmt.Println("  picomon -wifi-driver none -button-driver sim -joystick-driver sim -http-listen :8080 -aux-listen :9090")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Binding :80 needs root or CAP_NET_BIND_SERVICE")
	fmt.Println("  - GPIO and I2C access usually need the 'gpio' and 'i2c' groups")
	fmt.Println()
}

func main() {
	// Check for version/help early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath     = flag.String("config", "", "YAML config file")
		wifiDriver     = flag.String("wifi-driver", defaultWiFiDriver, "Network bootstrap driver: networkmanager|none")
		wifiIface      = flag.String("wifi-iface", defaultWiFiInterface, "Wireless interface")
		wifiSSID       = flag.String("wifi-ssid", defaultWiFiSSID, "Network name")
		wifiPassphrase = flag.String("wifi-passphrase", defaultWiFiPassphrase, "WPA2 passphrase")
		httpListen     = flag.String("http-listen", defaultHTTPListen, "Status page listen address")
		buttonDriver   = flag.String("button-driver", driverGPIO, "Button input: gpio|serial|sim")
		buttonPin      = flag.String("button-pin", defaultButtonPin, "GPIO pin name for the button")
		joystickDriver = flag.String("joystick-driver", driverADS1115, "Joystick input: ads1115|iio|serial|sim")
		joystickChan   = flag.Int("joystick-channel", defaultJoystickChan, "ADC channel for the joystick X axis")
		serialPort     = flag.String("serial-port", defaultSerialPort, "Bridge microcontroller serial port")
		sampleInterval = flag.Int("sample-interval-ms", defaultSampleInterval, "Maximum time between sampling passes in ms")
		ipcSocketPath  = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		auxListen      = flag.String("aux-listen", "", "Listen address for /ws, /metrics and /healthz")
		logLevelStr    = flag.String("log-level", defaultLogLevel, "Log level: error, warn, info, debug")
		showVersion    = flag.Bool("version", false, "Print version and exit")
		showHelp       = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Defaults, then file, then flags that were set explicitly.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(ExpandPath(*configPath))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	pick := func(name string, v *string) *string {
		if set[name] {
			return v
		}
		return nil
	}
	pickInt := func(name string, v *int) *int {
		if set[name] {
			return v
		}
		return nil
	}
	FlagOverrides{
		WiFiDriver:     pick("wifi-driver", wifiDriver),
		WiFiInterface:  pick("wifi-iface", wifiIface),
		WiFiSSID:       pick("wifi-ssid", wifiSSID),
		WiFiPassphrase: pick("wifi-passphrase", wifiPassphrase),
		HTTPListen:     pick("http-listen", httpListen),
		ButtonDriver:   pick("button-driver", buttonDriver),
		ButtonPin:      pick("button-pin", buttonPin),
		JoystickDriver: pick("joystick-driver", joystickDriver),
		JoystickChan:   pickInt("joystick-channel", joystickChan),
		SerialPort:     pick("serial-port", serialPort),
		SampleInterval: pickInt("sample-interval-ms", sampleInterval),
		IPCSocketPath:  pick("ipc-socket", ipcSocketPath),
		AuxListen:      pick("aux-listen", auxListen),
		LogLevel:       pick("log-level", logLevelStr),
	}.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level) // checked by Validate
	logger := setupLogger(logLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("picomon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

// run brings the network up, opens the inputs and the status listener, then
// drives the main loop with the optional IPC and aux servers beside it.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Debug("starting picomon", "version", version)
	logger.Debug("configuration",
		"wifi_driver", cfg.WiFi.Driver,
		"wifi_iface", cfg.WiFi.Interface,
		"wifi_ssid", cfg.WiFi.SSID,
		"http_listen", cfg.HTTP.Listen,
		"button_driver", cfg.Sensors.Button.Driver,
		"joystick_driver", cfg.Sensors.Joystick.Driver,
		"sample_interval_ms", cfg.Sensors.SampleIntervalMS,
		"ipc_socket", cfg.IPC.SocketPath,
		"aux_listen", cfg.Aux.Listen)

	metrics := NewMetrics(version)

	// Network bootstrap: blocks until associated or canceled.
	radio, err := newRadio(cfg.WiFi, logger)
	if err != nil {
		return err
	}
	defer radio.Close()

	if _, err := bootstrapNetwork(ctx, radio, cfg.ToBootstrapConfig(), metrics, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	sensors, err := openSensors(cfg.Sensors, logger)
	if err != nil {
		return err
	}
	defer sensors.Close()

	stack := NewStack(StackConfig{
		SendBuffer:   cfg.HTTP.SendBuffer,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutMS) * time.Millisecond,
	}, logger)

	ln, err := stack.Listen(ctx, cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("status listener: %w", err)
	}
	defer ln.Close()

	state := &SensorState{}
	responder := NewResponder(state, ResponderConfig{RenderBuffer: cfg.HTTP.RenderBuffer}, metrics, logger)
	ln.Accept(responder.Accept)

	sampler := NewSampler(sensors.button, sensors.joystick, metrics, logger)

	listenInfo := []any{"http", ln.Addr().String()}
	if cfg.IPC.SocketPath != "" {
		listenInfo = append(listenInfo, "ipc", cfg.IPC.SocketPath)
	}
	if cfg.Aux.Listen != "" {
		listenInfo = append(listenInfo, "aux", cfg.Aux.Listen)
	}
	logger.Info("listening", listenInfo...)

	g, gctx := errgroup.WithContext(ctx)

	var publish func(StateBroadcast)
	if cfg.Aux.Listen != "" {
		var updates <-chan StateBroadcast
		publish, updates = newBroadcastQueue(64, logger)

		hub := NewHub(HubConfig{}, metrics, logger)
		ws := &stateWSHandler{hub: hub, stack: stack, state: state, logger: logger}

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, hub, updates, logger)
			return nil
		})
		g.Go(func() error {
			return runAuxServer(gctx, cfg.Aux.Listen, newAuxRouter(ws, metrics), logger)
		})
	}

	if cfg.IPC.SocketPath != "" {
		h := &ipcHandler{stack: stack, state: state, sim: sensors.sim}
		g.Go(func() error {
			return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), h, logger)
		})
	}

	g.Go(func() error {
		return runLoop(gctx, stack, sampler, state, cfg.sampleInterval(), publish, logger)
	})

	return g.Wait()
}
