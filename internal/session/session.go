// Package session implements consent-gated, permission-scoped, time-bounded
// remote-control sessions layered on top of the signaling rooms.
//
// A session authorizes one peer (the controller) to issue privileged control
// commands to another (the client). Every executed command is recorded in a
// per-session encrypted audit log. Sessions are never removed from the
// manager during the process lifetime; termination is a terminal state, so
// late lookups see a terminated record instead of "not found".
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/crossdesk/relay/internal/auditlog"
)

type Permission string

const (
	PermMouse    Permission = "mouse"
	PermKeyboard Permission = "keyboard"
	PermAudio    Permission = "audio"
	PermVideo    Permission = "video"
	PermSystem   Permission = "system"
	PermFile     Permission = "file"
	PermNetwork  Permission = "network"
)

var allPermissions = map[Permission]struct{}{
	PermMouse:    {},
	PermKeyboard: {},
	PermAudio:    {},
	PermVideo:    {},
	PermSystem:   {},
	PermFile:     {},
	PermNetwork:  {},
}

func ValidPermission(p Permission) bool {
	_, ok := allPermissions[p]
	return ok
}

type State string

const (
	StateRequested  State = "requested"
	StateConsented  State = "consented"
	StateTerminated State = "terminated"
)

// Command is a privileged instruction addressed to a session's client peer.
// Data is opaque to the relay; when Encrypted is set it is sealed under the
// session key before delivery.
type Command struct {
	Type      Permission      `json:"type"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId,omitempty"`
	Encrypted bool            `json:"encrypted,omitempty"`
}

// Session state is guarded by the owning Manager's mutex; nothing outside
// this package holds a *Session.
type Session struct {
	id   string
	room string

	clientID           string
	controllerID       string
	clientLocation     string
	controllerLocation string

	permissions map[Permission]struct{}
	key         []byte

	state        State
	consent      bool
	active       bool
	createdAt    time.Time
	lastActivity time.Time

	audit *auditlog.Log
}

func (s *Session) hasPermission(p Permission) bool {
	_, ok := s.permissions[p]
	return ok
}

// Info is the non-sensitive projection of a session returned by lookups.
// The session key and decrypted audit content are never exposed here.
type Info struct {
	ID           string    `json:"sessionId"`
	Room         string    `json:"room"`
	ClientID     string    `json:"clientId"`
	ControllerID string    `json:"controllerId"`
	State        State     `json:"state"`
	Consent      bool      `json:"consent"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Permissions  []string  `json:"permissions"`
	AuditEntries int       `json:"auditEntries"`
}

// auditEntry is the plaintext shape sealed into the audit log.
type auditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Event       string    `json:"event"`
	CommandType string    `json:"commandType,omitempty"`
	Action      string    `json:"action,omitempty"`
	Elapsed     string    `json:"elapsed,omitempty"`
}

func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
