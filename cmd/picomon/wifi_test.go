package main

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

// fakeRadio fails Init and Join a configured number of times.
type fakeRadio struct {
	initFails   int
	joinFails   int
	enableErr   error
	initCalls   int
	joinCalls   int
	enableCalls int
	lastSSID    string
	lastPass    string
	lastTimeout time.Duration
	addr        netip.Addr
}

func (r *fakeRadio) Init(context.Context) error {
	r.initCalls++
	if r.initCalls <= r.initFails {
		return errors.New("cyw43 init failed")
	}
	return nil
}

func (r *fakeRadio) EnableStation(context.Context) error {
	r.enableCalls++
	return r.enableErr
}

func (r *fakeRadio) Join(_ context.Context, ssid, pass string, timeout time.Duration) error {
	r.joinCalls++
	r.lastSSID, r.lastPass, r.lastTimeout = ssid, pass, timeout
	if r.joinCalls <= r.joinFails {
		return errors.New("association timed out")
	}
	return nil
}

func (r *fakeRadio) Address() (netip.Addr, bool) { return r.addr, r.addr.IsValid() }
func (r *fakeRadio) Close() error                { return nil }

func testBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		SSID:        "ALCL-9D58",
		Passphrase:  "xxxxxxxxxx",
		JoinTimeout: 20 * time.Second,
		RetryDelay:  time.Millisecond,
	}
}

func TestBootstrapNetwork_RetriesUntilConnected(t *testing.T) {
	radio := &fakeRadio{initFails: 3, joinFails: 2, addr: netip.MustParseAddr("192.168.1.50")}

	addr, err := bootstrapNetwork(context.Background(), radio, testBootstrapConfig(), NewMetrics("test"), discardLogger())
	if err != nil {
		t.Fatalf("bootstrapNetwork: %v", err)
	}
	if addr.String() != "192.168.1.50" {
		t.Fatalf("addr = %v", addr)
	}
	if radio.initCalls != 4 {
		t.Fatalf("init calls = %d, want 4", radio.initCalls)
	}
	if radio.enableCalls != 1 {
		t.Fatalf("enable calls = %d, want 1", radio.enableCalls)
	}
	if radio.joinCalls != 3 {
		t.Fatalf("join calls = %d, want 3", radio.joinCalls)
	}
	if radio.lastSSID != "ALCL-9D58" || radio.lastPass != "xxxxxxxxxx" || radio.lastTimeout != 20*time.Second {
		t.Fatalf("join args = %q %q %v", radio.lastSSID, radio.lastPass, radio.lastTimeout)
	}
}

func TestBootstrapNetwork_EnableStationIsFatal(t *testing.T) {
	radio := &fakeRadio{enableErr: errors.New("rfkill")}

	_, err := bootstrapNetwork(context.Background(), radio, testBootstrapConfig(), nil, discardLogger())
	if err == nil || !errors.Is(err, radio.enableErr) {
		t.Fatalf("err = %v, want wrapped enable error", err)
	}
	if radio.joinCalls != 0 {
		t.Fatalf("join attempted after enable failure")
	}
}

func TestBootstrapNetwork_CancelDuringInitRetries(t *testing.T) {
	radio := &fakeRadio{initFails: 1 << 30}
	cfg := testBootstrapConfig()
	cfg.RetryDelay = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := bootstrapNetwork(ctx, radio, cfg, nil, discardLogger())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if radio.initCalls < 2 {
		t.Fatalf("init calls = %d, expected retries", radio.initCalls)
	}
}

func TestBootstrapNetwork_NoAddressStillConnected(t *testing.T) {
	radio := &fakeRadio{}
	addr, err := bootstrapNetwork(context.Background(), radio, testBootstrapConfig(), nil, discardLogger())
	if err != nil {
		t.Fatalf("bootstrapNetwork: %v", err)
	}
	if addr.IsValid() {
		t.Fatalf("addr = %v, want invalid", addr)
	}
}

func TestNewRadio(t *testing.T) {
	if _, err := newRadio(WiFiConfig{Driver: "bogus"}, discardLogger()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	r, err := newRadio(WiFiConfig{Driver: wifiDriverNone, Interface: "lo"}, discardLogger())
	if err != nil {
		t.Fatalf("newRadio(none): %v", err)
	}
	if _, ok := r.(*hostRadio); !ok {
		t.Fatalf("none driver returned %T", r)
	}

	r, err = newRadio(WiFiConfig{Driver: wifiDriverNetworkManager, Interface: "wlan0"}, discardLogger())
	if err != nil {
		t.Fatalf("newRadio(networkmanager): %v", err)
	}
	if _, ok := r.(*nmRadio); !ok {
		t.Fatalf("networkmanager driver returned %T", r)
	}
}

func TestHostRadio_LoopbackAddress(t *testing.T) {
	r := newHostRadio("lo")
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	addr, ok := r.Address()
	if !ok {
		t.Skip("loopback has no IPv4 address in this environment")
	}
	if !addr.IsLoopback() {
		t.Fatalf("addr = %v, want loopback", addr)
	}
}

func TestNMRadio_RequiresInit(t *testing.T) {
	r := newNMRadio("wlan0", discardLogger())
	if err := r.EnableStation(context.Background()); err == nil {
		t.Fatalf("EnableStation before Init should fail")
	}
	if err := r.Join(context.Background(), "x", "yyyyyyyy", time.Second); err == nil {
		t.Fatalf("Join before Init should fail")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWiFiConnectionSettings(t *testing.T) {
	s := wifiConnectionSettings("ALCL-9D58", "xxxxxxxxxx")

	if got := s["connection"]["type"].Value(); got != "802-11-wireless" {
		t.Fatalf("connection.type = %v", got)
	}
	if got, _ := s["802-11-wireless"]["ssid"].Value().([]byte); string(got) != "ALCL-9D58" {
		t.Fatalf("ssid = %q", got)
	}
	if got := s["802-11-wireless"]["mode"].Value(); got != "infrastructure" {
		t.Fatalf("mode = %v", got)
	}
	sec := s["802-11-wireless-security"]
	if sec["key-mgmt"].Value() != "wpa-psk" || sec["psk"].Value() != "xxxxxxxxxx" {
		t.Fatalf("security = %v", sec)
	}
	for _, key := range []string{"pairwise", "group"} {
		v, _ := sec[key].Value().([]string)
		if len(v) != 1 || v[0] != "ccmp" {
			t.Fatalf("%s = %v, want [ccmp] (AES)", key, v)
		}
	}
	if proto, _ := sec["proto"].Value().([]string); len(proto) != 1 || proto[0] != "rsn" {
		t.Fatalf("proto = %v, want [rsn] (WPA2)", proto)
	}
}
