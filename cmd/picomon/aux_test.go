package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startAuxTestServer(t *testing.T, ws http.Handler, metrics *Metrics) string {
	t.Helper()
	ts := httptest.NewServer(newAuxRouter(ws, metrics))
	t.Cleanup(ts.Close)
	return ts.URL
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestAuxRouter_Healthz(t *testing.T) {
	base := startAuxTestServer(t, nil, nil)

	code, body := get(t, base+"/healthz")
	if code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestAuxRouter_UnknownRoute(t *testing.T) {
	base := startAuxTestServer(t, nil, NewMetrics("test"))

	if code, _ := get(t, base+"/"); code != http.StatusNotFound {
		t.Fatalf("GET / on aux = %d, want 404", code)
	}
	if code, _ := get(t, base+"/ws"); code != http.StatusNotFound {
		t.Fatalf("GET /ws without a ws handler = %d, want 404", code)
	}
}

func TestAuxRouter_MetricsCountRequests(t *testing.T) {
	srv := startTestServer(t, nil)
	base := startAuxTestServer(t, nil, srv.metrics)

	_ = roundTrip(t, srv.addr, rootRequest)
	_ = roundTrip(t, srv.addr, "GET /favicon.ico HTTP/1.1\r\n\r\n")

	waitUntil(t, time.Second, func() bool {
		_, body := get(t, base+"/metrics")
		return strings.Contains(body, `picomon_http_requests_total{result="served"} 1`) &&
			strings.Contains(body, `picomon_http_requests_total{result="dropped"} 1`) &&
			strings.Contains(body, "picomon_connections_open 0")
	}, "request counters not exported")

	_, body := get(t, base+"/metrics")
	for _, name := range []string{
		"picomon_samples_total",
		"picomon_joystick_x_raw",
		"picomon_button_pressed",
		`picomon_build_info{version="test"} 1`,
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %q", name)
		}
	}
}

func TestServeAux_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveAux(ctx, ln, newAuxRouter(nil, nil), discardLogger())
	}()

	waitUntil(t, time.Second, func() bool {
		code, _ := get(t, "http://"+ln.Addr().String()+"/healthz")
		return code == http.StatusOK
	}, "aux server not serving")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveAux = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("aux server did not shut down")
	}
}

func TestRunAuxServer_BadAddress(t *testing.T) {
	err := runAuxServer(context.Background(), "256.0.0.1:bad", http.NotFoundHandler(), discardLogger())
	if err == nil {
		t.Fatalf("expected listen error")
	}
}
