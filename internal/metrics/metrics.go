package metrics

import "sync"

// Counter names. Names are intentionally simple; a follow-up metrics task can
// standardize and export these via OTel.
const (
	AuthMissingCredential = "auth_missing_credential"
	AuthInvalidCredential = "auth_invalid_credential"

	PeerAdmitted = "peer_admitted"
	PeerRemoved  = "peer_removed"
	RoomCreated  = "room_created"
	RoomDeleted  = "room_deleted"
	RoomEvicted  = "room_evicted"

	EnvelopeRelayed = "envelope_relayed"

	// Drop reasons for inbound signaling envelopes.
	DropReasonUnknownRecipient = "drop_unknown_recipient"
	DropReasonRateLimited      = "drop_rate_limited"
	DropReasonBadEnvelope      = "drop_bad_envelope"
	DropReasonUnboundControl   = "drop_unbound_control"

	SessionCreated        = "session_created"
	SessionConsented      = "session_consented"
	SessionTerminated     = "session_terminated"
	SessionExpired        = "session_expired"
	SessionTooMany        = "session_too_many"
	CommandExecuted       = "command_executed"
	CommandRejected       = "command_rejected"
	CommandUndelivered    = "command_undelivered"
	ConsentRejected       = "consent_rejected"
	AuditEntriesEvicted   = "audit_entries_evicted"
	ExpirySweepTerminated = "expiry_sweep_terminated"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to eventually plug into a real metrics backend; this
// type exists to keep enforcement logic testable and to provide the drop and
// session counters the operational surface depends on.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
