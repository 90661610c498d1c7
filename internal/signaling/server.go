package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/crossdesk/relay/internal/auth"
	"github.com/crossdesk/relay/internal/config"
	"github.com/crossdesk/relay/internal/metrics"
	"github.com/crossdesk/relay/internal/origin"
	"github.com/crossdesk/relay/internal/ratelimit"
	"github.com/crossdesk/relay/internal/rooms"
	"github.com/crossdesk/relay/internal/session"
	"github.com/crossdesk/relay/internal/turnrest"
)

const wsWriteWait = 1 * time.Second

// Admission close reasons are stable: clients distinguish "not logged in"
// from "token expired" by the reason string.
const (
	reasonMissingCredential = "missing_credential"
	reasonInvalidCredential = "invalid_credential"
)

// Server upgrades GET /signal requests and relays envelopes between the
// peers of a room.
type Server struct {
	cfg      config.Config
	registry *rooms.Registry
	sessions *session.Manager
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	logger   *slog.Logger
	turnGen  *turnrest.Generator
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, registry *rooms.Registry, sessions *session.Manager, m *metrics.Metrics, clock ratelimit.Clock, logger *slog.Logger) *Server {
	if m == nil {
		m = &metrics.Metrics{}
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		metrics:  m,
		clock:    clock,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, cfg.AllowedOrigins)
			},
		},
	}
}

// checkOrigin admits upgrade requests without an Origin header (native
// clients) and defers browser requests to the origin allowlist.
func checkOrigin(r *http.Request, allowlist []string) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	return origin.Allowed(header, r.Host, allowlist)
}

// SetTURNCredentials enables per-peer TURN REST credentials on the ICE
// servers included in the admission message. Must be called before the
// server starts accepting connections.
func (s *Server) SetTURNCredentials(g *turnrest.Generator) {
	s.turnGen = g
}

// admissionMessage is the first server-originated envelope on every
// connection, carrying the server-assigned peer ID the remote side must be
// addressed by.
type admissionMessage struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Room       string             `json:"room"`
	ICEServers []webrtc.ICEServer `json:"iceServers,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := q.Get("room")
	if room == "" {
		room = "default"
	}
	credential := auth.CredentialFromQuery(q)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	transport := newWSTransport(conn)
	defer transport.Close(websocket.CloseNormalClosure, "")

	peer, err := s.registry.Admit(credential, room, transport)
	if err != nil {
		reason := reasonInvalidCredential
		if errors.Is(err, auth.ErrMissingCredentials) {
			reason = reasonMissingCredential
		}
		transport.Close(websocket.ClosePolicyViolation, reason)
		return
	}
	defer s.registry.Remove(room, peer.ID)

	logger := s.logger.With(slog.String("room", room), slog.String("peerId", peer.ID))
	logger.Info("peer admitted")

	iceServers := s.cfg.ICEServers
	if s.turnGen != nil {
		if creds, err := s.turnGen.Generate(peer.ID); err == nil {
			iceServers = turnrest.Decorate(iceServers, creds)
		}
	}
	welcome, err := json.Marshal(admissionMessage{
		Type:       "id",
		ID:         peer.ID,
		Room:       room,
		ICEServers: iceServers,
	})
	if err != nil || transport.Send(welcome) != nil {
		return
	}

	if s.cfg.MaxSignalingMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	}
	limiter := ratelimit.NewTokenBucket(s.clock,
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond))

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Info("peer disconnected")
			return
		}
		if msgType != websocket.TextMessage {
			transport.Close(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			transport.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.handleEnvelope(logger, room, peer.ID, msg)
	}
}

// handleEnvelope routes one inbound envelope. Failures are deliberately
// silent toward the sender: an error reply would reveal room membership to
// a peer probing for IDs.
func (s *Server) handleEnvelope(logger *slog.Logger, room, from string, msg []byte) {
	env, err := parseEnvelope(msg)
	if err != nil {
		s.metrics.Inc(metrics.DropReasonBadEnvelope)
		logger.Debug("dropped malformed envelope", slog.Any("error", err))
		return
	}

	if env.typ == envelopeControl {
		s.handleControl(logger, room, from, env)
		return
	}

	s.relay(logger, room, from, env)
}

func (s *Server) relay(logger *slog.Logger, room, from string, env *envelope) {
	payload, err := env.withRouting(from, room)
	if err != nil {
		s.metrics.Inc(metrics.DropReasonBadEnvelope)
		return
	}
	if !s.registry.Send(room, env.to, payload) {
		s.metrics.Inc(metrics.DropReasonUnknownRecipient)
		logger.Debug("dropped envelope for unknown recipient",
			slog.String("type", env.typ))
		return
	}
	s.metrics.Inc(metrics.EnvelopeRelayed)
}

// handleControl gates control envelopes through the session manager. When a
// session binds the (from, to) pair the command is validated, audited, and
// delivered by the manager; the envelope is never relayed as-is. Unbound
// control envelopes are dropped unless passthrough mode is configured.
func (s *Server) handleControl(logger *slog.Logger, room, from string, env *envelope) {
	ctl, err := env.control()
	if err != nil {
		s.metrics.Inc(metrics.DropReasonBadEnvelope)
		logger.Debug("dropped malformed control envelope", slog.Any("error", err))
		return
	}

	if s.sessions.Binds(ctl.SessionID, room, from, env.to) {
		delivered, err := s.sessions.ExecuteCommand(ctl.SessionID, ctl.Command)
		if err != nil {
			logger.Info("control command rejected",
				slog.String("sessionId", ctl.SessionID),
				slog.Any("error", err))
		} else if !delivered {
			logger.Info("control command accepted but undelivered",
				slog.String("sessionId", ctl.SessionID))
		}
		return
	}

	if s.cfg.ControlRelayMode == config.ControlRelayPassthrough {
		s.relay(logger, room, from, env)
		return
	}
	s.metrics.Inc(metrics.DropReasonUnboundControl)
	logger.Info("dropped control envelope with no bound session",
		slog.String("sessionId", ctl.SessionID))
}

// wsTransport adapts a gorilla connection to rooms.Transport. The write
// mutex serializes the read loop's own writes with deliveries originating
// from other peers' goroutines.
type wsTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close(code int, reason string) {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(wsWriteWait))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
}
