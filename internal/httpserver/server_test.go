package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/crossdesk/relay/internal/config"
)

func startTestServer(t *testing.T, cfg config.Config) string {
	t.Helper()

	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), BuildInfo{
		Commit:    "abc123",
		BuildTime: "2026-01-01T00:00:00Z",
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	// Serve sets readiness; wait for the listener goroutine to run.
	deadline := time.Now().Add(2 * time.Second)
	base := "http://" + l.Addr().String()
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start")
	return ""
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestHealthAndReadiness(t *testing.T) {
	base := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	var health map[string]any
	if resp := getJSON(t, base+"/healthz", &health); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	if health["ok"] != true {
		t.Fatalf("healthz body %v", health)
	}

	var ready map[string]any
	if resp := getJSON(t, base+"/readyz", &ready); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
	if ready["ready"] != true {
		t.Fatalf("readyz body %v", ready)
	}
}

func TestVersion(t *testing.T) {
	base := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	var build BuildInfo
	getJSON(t, base+"/version", &build)
	if build.Commit != "abc123" {
		t.Fatalf("version = %+v", build)
	}
}

func TestRequestIDHeader(t *testing.T) {
	base := startTestServer(t, config.Config{ListenAddr: "127.0.0.1:0"})

	resp := getJSON(t, base+"/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}

	req, err := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Request-ID", "caller-chosen")
	echo, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	echo.Body.Close()
	if got := echo.Header.Get("X-Request-ID"); got != "caller-chosen" {
		t.Fatalf("X-Request-ID = %q, want caller-chosen", got)
	}
}

func TestICEServersEndpoint(t *testing.T) {
	base := startTestServer(t, config.Config{
		ListenAddr: "127.0.0.1:0",
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	})

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	getJSON(t, base+"/webrtc/ice", &body)
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("iceServers = %+v", body.ICEServers)
	}
}
