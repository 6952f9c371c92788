package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/godbus/dbus/v5"
)

// NetworkManager D-Bus names and enum values used by nmRadio.
const (
	nmBusName                           = "org.freedesktop.NetworkManager"
	nmPath              dbus.ObjectPath = "/org/freedesktop/NetworkManager"
	nmIface                             = "org.freedesktop.NetworkManager"
	nmDeviceIface                       = nmIface + ".Device"
	nmActiveIface                       = nmIface + ".Connection.Active"
	nmSettingsConnIface                 = nmIface + ".Settings.Connection"
	dbusPropertiesSet                   = "org.freedesktop.DBus.Properties.Set"

	nmDeviceTypeWiFi uint32 = 2

	nmActiveStateActivated    uint32 = 2
	nmActiveStateDeactivating uint32 = 3
	nmActiveStateDeactivated  uint32 = 4

	nmPollInterval = 250 * time.Millisecond
)

// nmRadio drives a Wi-Fi device through NetworkManager on the system bus.
type nmRadio struct {
	iface  string
	logger *slog.Logger

	conn   *dbus.Conn
	device dbus.ObjectPath
}

func newNMRadio(iface string, logger *slog.Logger) *nmRadio {
	return &nmRadio{iface: iface, logger: logger}
}

// Init connects to the system bus and resolves the Wi-Fi device.
func (r *nmRadio) Init(ctx context.Context) error {
	if r.conn == nil {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return fmt.Errorf("connect system bus: %w", err)
		}
		r.conn = conn
	}

	if err := r.resolveDevice(ctx); err != nil {
		_ = r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

func (r *nmRadio) resolveDevice(ctx context.Context) error {
	nm := r.conn.Object(nmBusName, nmPath)

	version, err := nm.GetProperty(nmIface + ".Version")
	if err != nil {
		return fmt.Errorf("networkmanager not responding: %w", err)
	}

	var dev dbus.ObjectPath
	if err := nm.CallWithContext(ctx, nmIface+".GetDeviceByIpIface", 0, r.iface).Store(&dev); err != nil {
		return fmt.Errorf("find device %s: %w", r.iface, err)
	}

	typ, err := r.conn.Object(nmBusName, dev).GetProperty(nmDeviceIface + ".DeviceType")
	if err != nil {
		return fmt.Errorf("read device type of %s: %w", r.iface, err)
	}
	if t, ok := typ.Value().(uint32); !ok || t != nmDeviceTypeWiFi {
		return fmt.Errorf("device %s is not a wifi device (type %v)", r.iface, typ.Value())
	}

	r.device = dev
	r.logger.Debug("networkmanager ready", "version", version.Value(), "device", string(dev))
	return nil
}

// EnableStation turns the wireless radio on. NetworkManager manages the
// device in infrastructure (station) mode; the mode itself is set per connection.
func (r *nmRadio) EnableStation(ctx context.Context) error {
	if r.conn == nil {
		return errors.New("networkmanager radio not initialized")
	}
	nm := r.conn.Object(nmBusName, nmPath)
	call := nm.CallWithContext(ctx, dbusPropertiesSet, 0, nmIface, "WirelessEnabled", dbus.MakeVariant(true))
	if call.Err != nil {
		return fmt.Errorf("enable wireless: %w", call.Err)
	}
	return nil
}

// Join adds a WPA2-AES profile for ssid, activates it on the device and waits
// until it is activated. Profiles that fail to activate are deleted.
func (r *nmRadio) Join(ctx context.Context, ssid, passphrase string, timeout time.Duration) error {
	if r.conn == nil {
		return errors.New("networkmanager radio not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nm := r.conn.Object(nmBusName, nmPath)

	var connPath, activePath dbus.ObjectPath
	call := nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0,
		wifiConnectionSettings(ssid, passphrase), r.device, dbus.ObjectPath("/"))
	if err := call.Store(&connPath, &activePath); err != nil {
		return fmt.Errorf("add and activate connection: %w", err)
	}

	if err := r.waitActivated(ctx, activePath); err != nil {
		r.deleteConnection(connPath)
		return err
	}
	return nil
}

func (r *nmRadio) waitActivated(ctx context.Context, active dbus.ObjectPath) error {
	obj := r.conn.Object(nmBusName, active)
	ticker := time.NewTicker(nmPollInterval)
	defer ticker.Stop()

	for {
		v, err := obj.GetProperty(nmActiveIface + ".State")
		if err != nil {
			// The active connection object vanishes when activation fails.
			return fmt.Errorf("read activation state: %w", err)
		}
		state, _ := v.Value().(uint32)
		switch state {
		case nmActiveStateActivated:
			return nil
		case nmActiveStateDeactivating, nmActiveStateDeactivated:
			return errors.New("activation failed")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("association timed out: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *nmRadio) deleteConnection(path dbus.ObjectPath) {
	if path == "" || path == "/" {
		return
	}
	if err := r.conn.Object(nmBusName, path).Call(nmSettingsConnIface+".Delete", 0).Err; err != nil {
		r.logger.Debug("delete failed connection profile", "path", string(path), "error", err)
	}
}

// Address returns the interface's IPv4 address.
func (r *nmRadio) Address() (netip.Addr, bool) {
	return interfaceIPv4(r.iface)
}

func (r *nmRadio) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// wifiConnectionSettings builds an a{sa{sv}} connection profile for a
// WPA2-AES (RSN/CCMP, pre-shared key) network in infrastructure mode.
func wifiConnectionSettings(ssid, passphrase string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant("picomon-" + ssid),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(passphrase),
			"proto":    dbus.MakeVariant([]string{"rsn"}),
			"pairwise": dbus.MakeVariant([]string{"ccmp"}),
			"group":    dbus.MakeVariant([]string{"ccmp"}),
		},
		"ipv4": {
			"method": dbus.MakeVariant("auto"),
		},
		"ipv6": {
			"method": dbus.MakeVariant("ignore"),
		},
	}
}
