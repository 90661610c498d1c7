package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crossdesk/relay/internal/auditlog"
	"github.com/crossdesk/relay/internal/config"
	"github.com/crossdesk/relay/internal/metrics"
	"github.com/crossdesk/relay/internal/ratelimit"
)

// Sender delivers a payload to a peer by (room, peerID). Satisfied by
// rooms.Registry. Delivery is best-effort; false means the peer is absent or
// its transport failed.
type Sender interface {
	Send(room, peerID string, payload []byte) bool
}

type Manager struct {
	cfg     config.Config
	sender  Sender
	metrics *metrics.Metrics
	clock   ratelimit.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg config.Config, sender Sender, m *metrics.Metrics, clock ratelimit.Clock, logger *slog.Logger) *Manager {
	if m == nil {
		m = &metrics.Metrics{}
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sender:   sender,
		metrics:  m,
		clock:    clock,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

type CreateParams struct {
	ClientID           string
	ControllerID       string
	Room               string
	Permissions        []Permission
	ClientLocation     string
	ControllerLocation string
}

type Created struct {
	ID  string
	Key []byte
}

func (m *Manager) locationAllowed(loc string) bool {
	if len(m.cfg.AllowedLocations) == 0 {
		return true
	}
	for _, allowed := range m.cfg.AllowedLocations {
		if loc == allowed {
			return true
		}
	}
	return false
}

// activeCountLocked counts sessions that have not yet terminated. Terminated
// records stay in the map but do not consume quota.
func (m *Manager) activeCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.active {
			n++
		}
	}
	return n
}

// Create registers a new session in the Requested state and returns its ID
// together with a fresh 256-bit session key. The session is active
// immediately but accepts no commands until the client consents.
func (m *Manager) Create(p CreateParams) (*Created, error) {
	perms := make(map[Permission]struct{}, len(p.Permissions))
	for _, perm := range p.Permissions {
		if !ValidPermission(perm) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, perm)
		}
		perms[perm] = struct{}{}
	}
	if !m.locationAllowed(p.ClientLocation) {
		return nil, fmt.Errorf("%w: %q", ErrLocationNotAllowed, p.ClientLocation)
	}
	if !m.locationAllowed(p.ControllerLocation) {
		return nil, fmt.Errorf("%w: %q", ErrLocationNotAllowed, p.ControllerLocation)
	}

	key, err := auditlog.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return nil, err
		}

		now := m.clock.Now()

		m.mu.Lock()
		if m.cfg.MaxActiveSessions > 0 && m.activeCountLocked() >= m.cfg.MaxActiveSessions {
			m.mu.Unlock()
			m.metrics.Inc(metrics.SessionTooMany)
			return nil, ErrTooManySessions
		}
		if _, taken := m.sessions[id]; taken {
			// Extremely unlikely (16 bytes of crypto-random entropy). Try again.
			m.mu.Unlock()
			continue
		}
		m.sessions[id] = &Session{
			id:                 id,
			room:               p.Room,
			clientID:           p.ClientID,
			controllerID:       p.ControllerID,
			clientLocation:     p.ClientLocation,
			controllerLocation: p.ControllerLocation,
			permissions:        perms,
			key:                key,
			state:              StateRequested,
			active:             true,
			createdAt:          now,
			lastActivity:       now,
			audit:              auditlog.NewLog(m.cfg.AuditLogCapacity),
		}
		m.mu.Unlock()

		m.metrics.Inc(metrics.SessionCreated)
		m.logger.Info("secure session created",
			slog.String("sessionId", id),
			slog.String("room", p.Room),
			slog.Int("permissions", len(perms)))
		return &Created{ID: id, Key: key}, nil
	}

	return nil, errors.New("failed to allocate unique session id")
}

// Consent records the client's approval and moves the session to the
// Consented state, returning the session key. Any failure, whether the
// session is unknown, terminated, or the identity or location does not
// match, returns ErrConsentRejected with no further detail. Consenting to an
// already-consented session is a no-op that succeeds and returns the key
// again.
func (m *Manager) Consent(sessionID, clientID, clientLocation string) ([]byte, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.active || s.clientID != clientID || s.clientLocation != clientLocation {
		m.mu.Unlock()
		m.metrics.Inc(metrics.ConsentRejected)
		return nil, ErrConsentRejected
	}
	if s.consent {
		key := s.key
		m.mu.Unlock()
		return key, nil
	}
	s.consent = true
	s.state = StateConsented
	s.lastActivity = m.clock.Now()
	key := s.key
	m.mu.Unlock()

	m.metrics.Inc(metrics.SessionConsented)
	m.logger.Info("secure session consented", slog.String("sessionId", sessionID))
	return key, nil
}

// pendingSend is delivery work captured under the lock and performed after
// release, so a slow transport never stalls session state.
type pendingSend struct {
	room    string
	peerID  string
	payload []byte
}

// ExecuteCommand validates cmd against the session and, on success, audits
// it and attempts delivery to the client peer. Preconditions are evaluated
// in order: the session exists and is active, consent has been given, the
// command type is within the granted permission set, and the activity
// timeout has not elapsed. An elapsed activity timeout terminates the
// session before failing. The boolean result reports delivery only; a
// command can be accepted and audited yet undelivered when the client's
// transport has gone stale.
func (m *Manager) ExecuteCommand(sessionID string, cmd Command) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		m.metrics.Inc(metrics.CommandRejected)
		return false, ErrSessionNotFound
	}
	if !s.active {
		m.mu.Unlock()
		m.metrics.Inc(metrics.CommandRejected)
		return false, ErrSessionNotActive
	}
	if !s.consent {
		m.mu.Unlock()
		m.metrics.Inc(metrics.CommandRejected)
		return false, ErrConsentRequired
	}
	if !s.hasPermission(cmd.Type) {
		m.mu.Unlock()
		m.metrics.Inc(metrics.CommandRejected)
		return false, fmt.Errorf("%w: %q", ErrPermissionDenied, cmd.Type)
	}
	if m.cfg.ActivityTimeout > 0 && now.Sub(s.lastActivity) > m.cfg.ActivityTimeout {
		notify := m.terminateLocked(s, "session_timeout", now)
		m.mu.Unlock()
		m.deliver(notify)
		m.metrics.Inc(metrics.SessionExpired)
		m.logger.Info("secure session expired on activity timeout",
			slog.String("sessionId", sessionID))
		return false, ErrSessionExpired
	}

	s.lastActivity = now
	m.appendAuditLocked(s, auditEntry{
		Timestamp:   now,
		Event:       "command_executed",
		CommandType: string(cmd.Type),
		Action:      cmd.Action,
	})
	send, err := m.commandSendLocked(s, cmd, now)
	m.mu.Unlock()

	if err != nil {
		m.metrics.Inc(metrics.CommandUndelivered)
		return false, nil
	}
	m.metrics.Inc(metrics.CommandExecuted)
	delivered := m.deliver(send)
	if !delivered {
		m.metrics.Inc(metrics.CommandUndelivered)
	}
	return delivered, nil
}

// commandMessage is the wire shape delivered to the client peer.
type commandMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	Command   Command `json:"command"`
}

func (m *Manager) commandSendLocked(s *Session, cmd Command, now time.Time) (*pendingSend, error) {
	wire := cmd
	wire.SessionID = s.id
	if wire.Timestamp.IsZero() {
		wire.Timestamp = now
	}
	if cmd.Encrypted && len(cmd.Data) > 0 {
		sealed, err := auditlog.Encrypt(s.key, cmd.Data)
		if err != nil {
			return nil, fmt.Errorf("encrypt command payload: %w", err)
		}
		enc, err := json.Marshal(sealed)
		if err != nil {
			return nil, err
		}
		wire.Data = enc
	}
	payload, err := json.Marshal(commandMessage{
		Type:      "control",
		SessionID: s.id,
		Command:   wire,
	})
	if err != nil {
		return nil, err
	}
	return &pendingSend{room: s.room, peerID: s.clientID, payload: payload}, nil
}

// Terminate moves the session to the terminal state. It reports true when
// this call performed the transition and false when the session was already
// terminated; repeat calls are safe no-ops.
func (m *Manager) Terminate(sessionID string) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false, ErrSessionNotFound
	}
	if !s.active {
		m.mu.Unlock()
		return false, nil
	}
	notify := m.terminateLocked(s, "session_terminated", now)
	m.mu.Unlock()

	m.deliver(notify)
	m.logger.Info("secure session terminated", slog.String("sessionId", sessionID))
	return true, nil
}

// terminateLocked transitions s to Terminated, appends the closing audit
// entry, and returns the best-effort client notification to deliver after
// the lock is released. Callers must hold m.mu and must not call this on an
// already-terminated session.
func (m *Manager) terminateLocked(s *Session, event string, now time.Time) *pendingSend {
	s.active = false
	s.state = StateTerminated
	m.appendAuditLocked(s, auditEntry{
		Timestamp: now,
		Event:     event,
		Elapsed:   now.Sub(s.createdAt).String(),
	})
	m.metrics.Inc(metrics.SessionTerminated)

	payload, err := json.Marshal(map[string]string{
		"type":      event,
		"sessionId": s.id,
	})
	if err != nil {
		return nil
	}
	return &pendingSend{room: s.room, peerID: s.clientID, payload: payload}
}

func (m *Manager) appendAuditLocked(s *Session, entry auditEntry) {
	sealed, err := auditlog.Encrypt(s.key, entry)
	if err != nil {
		// Sealing only fails on a corrupt key; the command itself already
		// passed validation, so log and move on.
		m.logger.Error("audit entry encryption failed",
			slog.String("sessionId", s.id),
			slog.Any("error", err))
		return
	}
	before := s.audit.Evicted()
	s.audit.Append(sealed)
	if s.audit.Evicted() > before {
		m.metrics.Inc(metrics.AuditEntriesEvicted)
	}
}

func (m *Manager) deliver(p *pendingSend) bool {
	if p == nil || m.sender == nil {
		return false
	}
	return m.sender.Send(p.room, p.peerID, p.payload)
}

// Binds reports whether sessionID is an active session binding fromPeer as
// controller to toPeer as client within room. The signaling relay uses this
// to decide whether a control envelope must pass through ExecuteCommand.
func (m *Manager) Binds(sessionID, room, fromPeer, toPeer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	return s.room == room && s.controllerID == fromPeer && s.clientID == toPeer
}

// Info returns the non-sensitive projection of a session, or nil when the
// session ID is unknown.
func (m *Manager) Info(sessionID string) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(s.permissions))
	for p := range s.permissions {
		perms = append(perms, string(p))
	}
	return &Info{
		ID:           s.id,
		Room:         s.room,
		ClientID:     s.clientID,
		ControllerID: s.controllerID,
		State:        s.state,
		Consent:      s.consent,
		Active:       s.active,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Permissions:  perms,
		AuditEntries: s.audit.Len(),
	}
}

// CleanupExpired terminates every session older than the absolute session
// timeout, irrespective of recent activity. Reports how many sessions were
// terminated. Safe to interleave with client-initiated terminates.
func (m *Manager) CleanupExpired() int {
	if m.cfg.SessionTimeout <= 0 {
		return 0
	}
	now := m.clock.Now()

	var notifies []*pendingSend
	m.mu.Lock()
	for _, s := range m.sessions {
		if !s.active {
			continue
		}
		if now.Sub(s.createdAt) > m.cfg.SessionTimeout {
			notifies = append(notifies, m.terminateLocked(s, "session_timeout", now))
			m.metrics.Inc(metrics.ExpirySweepTerminated)
		}
	}
	m.mu.Unlock()

	for _, n := range notifies {
		m.deliver(n)
	}
	if len(notifies) > 0 {
		m.logger.Info("expiry sweep terminated sessions", slog.Int("count", len(notifies)))
	}
	return len(notifies)
}

// Run sweeps expired sessions on the configured interval until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}
