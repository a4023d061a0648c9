package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestServiceSmokeHealthReadyAndNotify(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	var delivered atomic.Int64
	var lastTitle atomic.Value
	hook := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var payload struct {
			Title string `json:"title"`
		}
		body, _ := io.ReadAll(request.Body)
		_ = json.Unmarshal(body, &payload)
		lastTitle.Store(payload.Title)
		delivered.Add(1)
		writer.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	tmpDir := t.TempDir()
	alarmsPath := filepath.Join(tmpDir, "alarms.json")
	alarms := fmt.Sprintf(`[
		{"name": "hook", "type": "http", "webhook_url": "%s", "max_attempts": 1, "timeout_sec": 2}
	]`, hook.URL)
	if err := os.WriteFile(alarmsPath, []byte(alarms), 0o644); err != nil {
		t.Fatalf("write alarms: %v", err)
	}

	filtersPath := filepath.Join(tmpDir, "filters.json")
	filters := `{"monster": {"any": {}}}`
	if err := os.WriteFile(filtersPath, []byte(filters), 0o644); err != nil {
		t.Fatalf("write filters: %v", err)
	}

	configPath := filepath.Join(tmpDir, "config.toml")
	cfg := fmt.Sprintf(`
[service]
name = "pokealert"
shutdown_grace_sec = 5

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
health_path = "/healthz"
ready_path = "/readyz"
webhook_path = "/"
max_body_bytes = 1048576

[ingest.nats]
enabled = false

[manager.smoke]
latitude = 52.0
longitude = 13.0
alarms_file = "%s"
filters_file = "%s"
`, port, alarmsPath, filtersPath)

	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	despawnAt := time.Now().Add(30 * time.Minute).Unix()
	eventJSON := []byte(fmt.Sprintf(`{"type": "pokemon", "message": {
		"encounter_id": "smoke-1",
		"pokemon_id": 147,
		"disappear_time": %d,
		"latitude": 52.52,
		"longitude": 13.405
	}}`, despawnAt))
	resp, err = http.Post(baseURL+"/", "application/json", bytes.NewReader(eventJSON))
	if err != nil {
		t.Fatalf("webhook request: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected webhook 202, got %d", resp.StatusCode)
	}

	waitFor(t, 8*time.Second, func() bool {
		return delivered.Load() >= 1
	})
	if title, _ := lastTitle.Load().(string); title == "" {
		t.Fatalf("delivered notification must carry a rendered title")
	}

	// A repeat of the same sighting must dedup against the cache.
	resp, err = http.Post(baseURL+"/", "application/json", bytes.NewReader(eventJSON))
	if err != nil {
		t.Fatalf("repeat webhook request: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	time.Sleep(300 * time.Millisecond)
	if delivered.Load() != 1 {
		t.Fatalf("duplicate sighting must not notify again, got %d deliveries", delivered.Load())
	}

	cancel()
	waitServiceStop(t, done)
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}
