package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/atcommand/internal/simulator"
	"i4.energy/across/atcommand/modem"
)

func newTestServer(t *testing.T) (*Server, *simulator.Modem) {
	t.Helper()
	sim := simulator.New()
	config, err := modem.NewConfigBuilder().
		WithDialer(sim).
		WithATTimeout(time.Second).
		WithPollInterval(5 * time.Millisecond).
		Build()
	if err != nil {
		sim.Close()
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	client, err := modem.New(context.Background(), config)
	if err != nil {
		sim.Close()
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		sim.Close()
	})
	return &Server{Logger: zap.NewNop(), Client: client}, sim
}

func TestServerCommand(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		result string
		info   string
	}{
		{"Information response", `{"command":"AT+GMI"}`, http.StatusOK, "OK", "Simulated Modems Inc"},
		{"Prefix is stripped", `{"command":"AT+TEST=7","prefix":"+TEST:"}`, http.StatusOK, "OK", "7"},
		{"Error result is not a transport failure", `{"command":"AT+NOPE"}`, http.StatusOK, "ERROR", ""},
		{"Extended error text", `{"command":"AT+CMEE=4"}`, http.StatusOK, "CME ERROR", "invalid configuration"},
		{"Timeout", `{"command":"AT+SLOW","timeout_ms":100}`, http.StatusGatewayTimeout, "", ""},
		{"Missing command", `{}`, http.StatusBadRequest, "", ""},
		{"Invalid JSON", `{"command":`, http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp CommandResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Result != tt.result {
				t.Errorf("expected result %q, got %q", tt.result, resp.Result)
			}
			if resp.Info != tt.info {
				t.Errorf("expected info %q, got %q", tt.info, resp.Info)
			}
			if resp.CRC != "unused" {
				t.Errorf("expected crc unused, got %q", resp.CRC)
			}
		})
	}
}

func TestServerURC(t *testing.T) {
	s, sim := newTestServer(t)

	get := func() []string {
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/urc", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var urcs []string
		if err := json.NewDecoder(w.Body).Decode(&urcs); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return urcs
	}

	if urcs := get(); len(urcs) != 0 {
		t.Fatalf("expected no URCs, got %q", urcs)
	}

	sim.InjectURC("RING", "+CMTI: \"SM\",1")
	var urcs []string
	deadline := time.Now().Add(time.Second)
	for len(urcs) < 2 && time.Now().Before(deadline) {
		urcs = append(urcs, get()...)
		time.Sleep(10 * time.Millisecond)
	}
	if len(urcs) != 2 || urcs[0] != "RING" || urcs[1] != "+CMTI: \"SM\",1" {
		t.Errorf("unexpected URCs %q", urcs)
	}
}

func TestServerRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"Unknown path", http.MethodPost, "/sms", http.StatusNotFound},
		{"Wrong method for command", http.MethodGet, "/command", http.StatusMethodNotAllowed},
		{"Wrong method for urc", http.MethodDelete, "/urc", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}
