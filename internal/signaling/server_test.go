package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossdesk/relay/internal/auth"
	"github.com/crossdesk/relay/internal/config"
	"github.com/crossdesk/relay/internal/metrics"
	"github.com/crossdesk/relay/internal/rooms"
	"github.com/crossdesk/relay/internal/session"
)

const testAPIKey = "relay-test-key"

func testSignalingConfig() config.Config {
	return config.Config{
		AuthMode:                      config.AuthModeAPIKey,
		APIKey:                        testAPIKey,
		ActivityTimeout:               time.Hour,
		SessionTimeout:                12 * time.Hour,
		AuditLogCapacity:              config.DefaultAuditLogCapacity,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
	}
}

type testHarness struct {
	srv      *httptest.Server
	sessions *session.Manager
}

func newTestHarness(t *testing.T, cfg config.Config) *testHarness {
	t.Helper()

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m := &metrics.Metrics{}
	registry := rooms.NewRegistry(verifier, m, nil)
	sessions := session.NewManager(cfg, registry, m, nil, nil)
	server := NewServer(cfg, registry, sessions, m, nil, nil)

	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return &testHarness{srv: srv, sessions: sessions}
}

func (h *testHarness) dial(t *testing.T, room, credential string) (*websocket.Conn, admissionMessage) {
	t.Helper()

	u, err := url.Parse(h.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	q := u.Query()
	q.Set("room", room)
	if credential != "" {
		q.Set("token", credential)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	var welcome admissionMessage
	readJSON(t, conn, &welcome)
	if welcome.Type != "id" || welcome.ID == "" || welcome.Room != room {
		t.Fatalf("admission message = %+v", welcome)
	}
	return conn, welcome
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no message, got %s", msg)
	}
}

func expectCloseReason(t *testing.T, rawURL, wantReason string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("err = %v, want close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != wantReason {
		t.Fatalf("close = (%d, %q), want (%d, %q)",
			closeErr.Code, closeErr.Text, websocket.ClosePolicyViolation, wantReason)
	}
}

func TestAdmission_DistinctCredentialFailures(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	expectCloseReason(t, wsURL+"/?room=default", "missing_credential")
	expectCloseReason(t, wsURL+"/?room=default&token=wrong", "invalid_credential")
}

func TestRelay_OfferBetweenPeers(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	alice, _ := h.dial(t, "default", testAPIKey)
	bob, bobWelcome := h.dial(t, "default", testAPIKey)

	writeText(t, alice, `{"to":"`+bobWelcome.ID+`","type":"offer","sdp":"x"}`)

	var got map[string]any
	readJSON(t, bob, &got)
	if got["to"] != bobWelcome.ID || got["type"] != "offer" || got["sdp"] != "x" {
		t.Fatalf("relayed envelope = %v", got)
	}
	if got["from"] == "" || got["room"] != "default" {
		t.Fatalf("missing routing fields: %v", got)
	}
}

func TestRelay_UnknownRecipientIsSilentlyDropped(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	alice, _ := h.dial(t, "default", testAPIKey)
	bob, bobWelcome := h.dial(t, "default", testAPIKey)

	writeText(t, alice, `{"to":"deadbeef","type":"offer","sdp":"x"}`)

	// The sender's connection stays up and later envelopes still route: the
	// next message arrives at bob with nothing in between.
	writeText(t, alice, `{"to":"`+bobWelcome.ID+`","type":"offer","sdp":"second"}`)

	var got map[string]any
	readJSON(t, bob, &got)
	if got["sdp"] != "second" {
		t.Fatalf("bob received %v, want the second offer only", got)
	}
}

func TestRelay_RoomsAreIsolated(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	alice, _ := h.dial(t, "alpha", testAPIKey)
	bob, bobWelcome := h.dial(t, "beta", testAPIKey)

	writeText(t, alice, `{"to":"`+bobWelcome.ID+`","type":"offer","sdp":"x"}`)
	expectSilence(t, bob)
}

func TestControl_BoundSessionIsGatedThroughManager(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	controller, ctlWelcome := h.dial(t, "default", testAPIKey)
	client, clientWelcome := h.dial(t, "default", testAPIKey)

	created, err := h.sessions.Create(session.CreateParams{
		ClientID:       clientWelcome.ID,
		ControllerID:   ctlWelcome.ID,
		Room:           "default",
		Permissions:    []session.Permission{session.PermMouse},
		ClientLocation: "USA",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.sessions.Consent(created.ID, clientWelcome.ID, "USA"); err != nil {
		t.Fatal(err)
	}

	writeText(t, controller, `{"to":"`+clientWelcome.ID+`","type":"control","sessionId":"`+created.ID+`","command":{"type":"mouse","action":"move"}}`)

	// The client receives the manager's audited command message, not the raw
	// envelope.
	var got map[string]any
	readJSON(t, client, &got)
	if got["type"] != "control" || got["sessionId"] != created.ID {
		t.Fatalf("client received %v", got)
	}
	if _, raw := got["to"]; raw {
		t.Fatalf("raw envelope leaked through the command gate: %v", got)
	}
	if h.sessions.Info(created.ID).AuditEntries != 1 {
		t.Fatal("gated command must be audited")
	}
}

func TestControl_UnboundSessionIsDropped(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	controller, _ := h.dial(t, "default", testAPIKey)
	client, clientWelcome := h.dial(t, "default", testAPIKey)

	writeText(t, controller, `{"to":"`+clientWelcome.ID+`","type":"control","sessionId":"nosuch","command":{"type":"mouse","action":"move"}}`)
	expectSilence(t, client)
}

func TestControl_PassthroughMode(t *testing.T) {
	cfg := testSignalingConfig()
	cfg.ControlRelayMode = config.ControlRelayPassthrough
	h := newTestHarness(t, cfg)

	controller, _ := h.dial(t, "default", testAPIKey)
	client, clientWelcome := h.dial(t, "default", testAPIKey)

	writeText(t, controller, `{"to":"`+clientWelcome.ID+`","type":"control","sessionId":"nosuch","command":{"type":"mouse","action":"move"}}`)

	var got map[string]any
	readJSON(t, client, &got)
	if got["type"] != "control" || got["sessionId"] != "nosuch" || got["from"] == "" {
		t.Fatalf("passthrough envelope = %v", got)
	}
}

func TestMalformedEnvelope_DroppedWithoutDisconnect(t *testing.T) {
	h := newTestHarness(t, testSignalingConfig())

	alice, _ := h.dial(t, "default", testAPIKey)
	bob, bobWelcome := h.dial(t, "default", testAPIKey)

	writeText(t, alice, `not json at all`)
	writeText(t, alice, `{"to":"`+bobWelcome.ID+`","type":"offer","sdp":"after-garbage"}`)

	var got map[string]any
	readJSON(t, bob, &got)
	if got["sdp"] != "after-garbage" {
		t.Fatalf("bob received %v", got)
	}
}

func writeText(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
}

func TestUpgradeOriginPolicy(t *testing.T) {
	cfg := testSignalingConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	h := newTestHarness(t, cfg)

	u, err := url.Parse(h.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	q := u.Query()
	q.Set("token", testAPIKey)
	u.RawQuery = q.Encode()

	// Native clients send no Origin header and always pass.
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial without origin: %v", err)
	}
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(u.String(), http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("dial with allowlisted origin: %v", err)
	}
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(u.String(), http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected handshake failure for disallowed origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}
