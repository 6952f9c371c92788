package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// Wi-Fi driver names accepted in wifi.driver.
const (
	wifiDriverNetworkManager = "networkmanager"
	wifiDriverNone           = "none"
)

// Radio is the wireless interface used by bootstrapNetwork.
type Radio interface {
	// Init brings up the driver. Failures are retried by the caller.
	Init(ctx context.Context) error

	// EnableStation switches the radio on in client (station) mode.
	EnableStation(ctx context.Context) error

	// Join associates with ssid using WPA2-AES, blocking at most timeout.
	Join(ctx context.Context, ssid, passphrase string, timeout time.Duration) error

	// Address returns the assigned IPv4 address, if any.
	Address() (netip.Addr, bool)

	Close() error
}

type BootstrapConfig struct {
	SSID        string
	Passphrase  string
	JoinTimeout time.Duration
	RetryDelay  time.Duration
}

// bootstrapNetwork initializes the radio and joins the network, retrying
// init and association failures indefinitely with a fixed delay. It returns
// only on success or when ctx is canceled.
func bootstrapNetwork(ctx context.Context, radio Radio, cfg BootstrapConfig, metrics *Metrics, logger *slog.Logger) (netip.Addr, error) {
	for {
		err := radio.Init(ctx)
		metrics.wifiAttempt("init", err)
		if err == nil {
			break
		}
		logger.Error("wifi init failed", "error", err)
		if err := sleepCtx(ctx, cfg.RetryDelay); err != nil {
			return netip.Addr{}, err
		}
	}

	if err := radio.EnableStation(ctx); err != nil {
		return netip.Addr{}, fmt.Errorf("enable station mode: %w", err)
	}

	logger.Info("connecting to wifi", "ssid", cfg.SSID)
	for {
		err := radio.Join(ctx, cfg.SSID, cfg.Passphrase, cfg.JoinTimeout)
		metrics.wifiAttempt("join", err)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return netip.Addr{}, ctx.Err()
		}
		logger.Warn("wifi join failed", "ssid", cfg.SSID, "error", err)
		if err := sleepCtx(ctx, cfg.RetryDelay); err != nil {
			return netip.Addr{}, err
		}
	}

	addr, ok := radio.Address()
	if ok {
		logger.Info("wifi connected", "ssid", cfg.SSID, "ip", addr.String())
	} else {
		logger.Info("wifi connected", "ssid", cfg.SSID)
	}
	return addr, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// interfaceIPv4 returns the first IPv4 address bound to the named interface.
func interfaceIPv4(name string) (netip.Addr, bool) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipnet.IP); ok && ip.Unmap().Is4() {
			return ip.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

// hostRadio is used when the host network is managed outside picomon.
type hostRadio struct {
	iface string
}

func newHostRadio(iface string) *hostRadio { return &hostRadio{iface: iface} }

func (r *hostRadio) Init(context.Context) error          { return nil }
func (r *hostRadio) EnableStation(context.Context) error { return nil }
func (r *hostRadio) Join(context.Context, string, string, time.Duration) error {
	return nil
}
func (r *hostRadio) Address() (netip.Addr, bool) { return interfaceIPv4(r.iface) }
func (r *hostRadio) Close() error                { return nil }

// newRadio builds the radio for the configured driver.
func newRadio(cfg WiFiConfig, logger *slog.Logger) (Radio, error) {
	switch cfg.Driver {
	case wifiDriverNetworkManager:
		return newNMRadio(cfg.Interface, logger), nil
	case wifiDriverNone:
		return newHostRadio(cfg.Interface), nil
	default:
		return nil, fmt.Errorf("unknown wifi driver %q", cfg.Driver)
	}
}
