package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tunnel-keeper/internal/env"

	"github.com/gorilla/websocket"
)

// newTestConfig 指向httptest服务器的tcp配置
func newTestConfig(server *httptest.Server) *HTTPConfig {
	return &HTTPConfig{
		Address: server.Listener.Addr().String(),
		Network: "tcp",
		Timeout: 5 * time.Second,
		BaseURL: "http://localhost",
	}
}

/**
 * Test HTTP client creation functionality
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Verifies client is not connected before the first request
 */
func TestHTTPClientCreation(t *testing.T) {
	client := NewHTTPClient(&HTTPConfig{
		Address: "127.0.0.1:1",
		Network: "tcp",
		Timeout: time.Second,
		BaseURL: "http://localhost",
	})
	defer client.Close()

	if client.IsConnected() {
		t.Error("Client should not be connected initially")
	}
}

/**
 * Test HTTP client with mock server functionality
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Sends GET, POST and DELETE through the custom dialer
 * - Validates status codes and decoded bodies
 */
func TestHTTPClientWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == "GET" && r.URL.Path == "/api/tunnels":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`[{"service_name": "grafana", "port": 3000}]`))
		case r.Method == "POST" && r.URL.Path == "/api/start-tunnel":
			if r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"success": true, "message": "started"}`))
		case r.Method == "DELETE" && r.URL.Path == "/api/tunnels/grafana":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"success": true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(newTestConfig(server))
	defer client.Close()

	resp, err := client.Get("/api/tunnels", nil)
	if err != nil {
		t.Fatalf("Failed to send GET request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var list []map[string]interface{}
	if err := resp.Decode(&list); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(list) != 1 || list[0]["service_name"] != "grafana" {
		t.Errorf("Unexpected list: %v", list)
	}
	if !client.IsConnected() {
		t.Error("Client should be connected after a request")
	}

	resp, err = client.Post("/api/start-tunnel", map[string]interface{}{"service_name": "grafana", "port": 3000})
	if err != nil {
		t.Fatalf("Failed to send POST request: %v", err)
	}
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := resp.Decode(&result); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !result.Success || result.Message != "started" {
		t.Errorf("Unexpected POST result: %+v", result)
	}

	resp, err = client.Delete("/api/tunnels/grafana", nil)
	if err != nil {
		t.Fatalf("Failed to send DELETE request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestHTTPClientErrorMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/start-tunnel":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success": false, "message": "invalid port"}`))
		case "/api/tunnels/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code": "tunnel.not_found", "error": "Tunnel not found or already stopped"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(newTestConfig(server))
	defer client.Close()

	resp, err := client.Post("/api/start-tunnel", map[string]interface{}{"port": 0})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || resp.Error != "invalid port" {
		t.Errorf("Expected 400 'invalid port', got %d '%s'", resp.StatusCode, resp.Error)
	}

	resp, err = client.Get("/api/tunnels/missing", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Error != "Tunnel not found or already stopped" {
		t.Errorf("Unexpected error text: %s", resp.Error)
	}

	resp, err = client.Get("/other", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Error != "500 Internal Server Error" {
		t.Errorf("Expected status text as error, got '%s'", resp.Error)
	}
}

/**
 * Test HTTP client with query parameters functionality
 * @param {*testing.T} t - Testing framework instance
 */
func TestHTTPClientWithQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/search" {
			query := r.URL.Query()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"query_name": "` + query.Get("name") + `", "query_port": "` + query.Get("port") + `"}`))
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(newTestConfig(server))
	defer client.Close()

	resp, err := client.Get("/api/search", map[string]interface{}{
		"name": "test",
		"port": 8080,
	})
	if err != nil {
		t.Fatalf("Failed to send GET request with params: %v", err)
	}
	var body map[string]string
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if body["query_name"] != "test" {
		t.Errorf("Expected query_name 'test', got %v", body["query_name"])
	}
	if body["query_port"] != "8080" {
		t.Errorf("Expected query_port '8080', got %v", body["query_port"])
	}
}

func TestMissingSocketFails(t *testing.T) {
	client := NewHTTPClient(&HTTPConfig{
		Address: filepath.Join(t.TempDir(), "none.sock"),
		Network: "unix",
		Timeout: time.Second,
		BaseURL: "http://localhost",
	})
	defer client.Close()

	if _, err := client.Get("/api/tunnels", nil); err == nil {
		t.Error("Expected error when the socket file does not exist")
	}
	if client.IsConnected() {
		t.Error("Client should stay disconnected")
	}
}

/**
 * Test socket path generation functionality
 * @param {*testing.T} t - Testing framework instance
 */
func TestSocketPathGeneration(t *testing.T) {
	socketPath := getSocketPath("test.sock", "")
	expectedPath := filepath.Join(env.RunDir(), "test.sock")
	if socketPath != expectedPath {
		t.Errorf("Expected socket path %s, got %s", expectedPath, socketPath)
	}

	customDir := "/tmp/custom"
	socketPath = getSocketPath("test.sock", customDir)
	expectedPath = filepath.Join(customDir, "test.sock")
	if socketPath != expectedPath {
		t.Errorf("Expected socket path %s, got %s", expectedPath, socketPath)
	}
}

func TestTcpAddress(t *testing.T) {
	cases := map[string]string{
		"":               "127.0.0.1:5001",
		":5001":          "127.0.0.1:5001",
		"0.0.0.0:7000":   "127.0.0.1:7000",
		"10.0.0.5:6000":  "10.0.0.5:6000",
		"localhost:5002": "localhost:5002",
	}
	for in, want := range cases {
		if got := getTcpAddress(in); got != want {
			t.Errorf("getTcpAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDialWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]string{"type": "started", "service_name": r.URL.Query().Get("service")})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialWebsocket(ctx, newTestConfig(server), "/api/events", map[string]interface{}{"service": "grafana"})
	if err != nil {
		t.Fatalf("DialWebsocket failed: %v", err)
	}
	defer conn.Close()

	var ev map[string]string
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev["type"] != "started" || ev["service_name"] != "grafana" {
		t.Errorf("Unexpected event: %v", ev)
	}
}

/**
 * Benchmark HTTP client performance
 * @param {*testing.B} b - Benchmark testing framework instance
 */
func BenchmarkHTTPClient(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "benchmark response"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(&HTTPConfig{
		Address: server.Listener.Addr().String(),
		Network: "tcp",
		Timeout: 5 * time.Second,
		BaseURL: "http://localhost",
	})
	defer client.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.Get("/api/benchmark", nil); err != nil {
				b.Fatalf("HTTP request failed: %v", err)
			}
		}
	})
}
