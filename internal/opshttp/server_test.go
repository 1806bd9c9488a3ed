package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saddlebagexchange/saddlebag-web/internal/health"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func get(t *testing.T, h http.Handler, path, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const loopback = "127.0.0.1:40000"

func TestHandler_Probes(t *testing.T) {
	var gate health.Gate
	h := Handler(log.Nop(), Options{
		Liveness:  health.Fixed(true, ""),
		Readiness: health.All(gate.Probe(), health.Fixed(true, "")),
	})

	if rec := get(t, h, "/-/healthy", loopback); rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthy: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/-/ready", loopback); rec.Code != http.StatusOK || rec.Body.String() != "ready\n" {
		t.Fatalf("ready: %d %q", rec.Code, rec.Body.String())
	}

	gate.Close("shutting down")
	rec := get(t, h, "/-/ready", loopback)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "shutting down") {
		t.Fatalf("draining: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/-/healthy", loopback); rec.Code != http.StatusOK {
		t.Fatalf("liveness must not follow the gate: %d", rec.Code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	h := Handler(log.Nop(), Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# HELP upstream_calls_total\n"))
		}),
	})
	rec := get(t, h, "/metrics", loopback)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "upstream_calls_total") {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body.String())
	}

	if rec := get(t, Handler(log.Nop(), Options{}), "/metrics", loopback); rec.Code != http.StatusNotFound {
		t.Fatalf("no metrics handler: %d, want 404", rec.Code)
	}
}

func TestHandler_Pprof(t *testing.T) {
	on := Handler(log.Nop(), Options{EnablePprof: true})
	if rec := get(t, on, "/debug/pprof/", loopback); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled: %d", rec.Code)
	}
	off := Handler(log.Nop(), Options{})
	if rec := get(t, off, "/debug/pprof/", loopback); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d, want 404", rec.Code)
	}
}

func TestHandler_RecoversPanics(t *testing.T) {
	var panics atomic.Int32
	h := Handler(log.Nop(), Options{
		Metrics: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		OnPanic: func() { panics.Add(1) },
	})
	if rec := get(t, h, "/metrics", loopback); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics.Load() != 1 {
		t.Fatalf("OnPanic calls = %d", panics.Load())
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := requireNonPublicNetwork(log.Nop(), inner)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1", http.StatusOK},
		{"[::1]:1", http.StatusOK},
		{"10.0.0.1:8080", http.StatusOK},
		{"172.16.0.1:8080", http.StatusOK},
		{"192.168.1.1:8080", http.StatusOK},
		{"169.254.1.1:8080", http.StatusOK},
		{"[::ffff:10.0.0.1]:1", http.StatusOK},
		{"8.8.8.8:12345", http.StatusForbidden},
		{"203.0.113.1:80", http.StatusForbidden},
		{"[::ffff:8.8.8.8]:1", http.StatusForbidden},
		{"not-an-address", http.StatusForbidden},
		{"", http.StatusForbidden},
		{"999.999.999.999:8080", http.StatusForbidden},
	}
	for _, tt := range tests {
		if rec := get(t, h, "/-/ready", tt.remote); rec.Code != tt.want {
			t.Errorf("%q: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestHandler_AllowPublic(t *testing.T) {
	h := Handler(log.Nop(), Options{AllowPublic: true})
	if rec := get(t, h, "/-/healthy", "8.8.8.8:1"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStart_Lifecycle(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthy: %d %q", resp.StatusCode, body)
	}

	if _, err := Start(ctx, log.Nop(), Options{Port: port}); err == nil {
		t.Fatal("second Start on the same port succeeded")
	}

	for i := 0; i < 3; i++ {
		if err := stop(ctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting connections after stop")
	}
}
