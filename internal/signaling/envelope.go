package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crossdesk/relay/internal/session"
)

const (
	envelopeOffer     = "offer"
	envelopeAnswer    = "answer"
	envelopeCandidate = "candidate"
	envelopeControl   = "control"
)

var errBadEnvelope = errors.New("bad signaling envelope")

// envelope is one routed signaling message. Everything beyond the routing
// fields is opaque and forwarded untouched, so peers can extend the protocol
// without relay changes. Fields are kept as raw JSON so forwarding never
// re-encodes payload values (a float64 round-trip would perturb integers
// above 2^53).
type envelope struct {
	to  string
	typ string

	raw    []byte
	fields map[string]json.RawMessage
}

func parseEnvelope(data []byte) (*envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	var to, typ string
	if raw, ok := fields["to"]; ok {
		_ = json.Unmarshal(raw, &to)
	}
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	if to == "" || typ == "" {
		return nil, fmt.Errorf("%w: missing to or type", errBadEnvelope)
	}
	switch typ {
	case envelopeOffer, envelopeAnswer, envelopeCandidate, envelopeControl:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errBadEnvelope, typ)
	}
	return &envelope{to: to, typ: typ, raw: data, fields: fields}, nil
}

// withRouting stamps the sender's identity and room onto the envelope and
// re-encodes it. Any from/room the sender supplied is overwritten; peers
// must never be able to spoof the routing fields.
func (e *envelope) withRouting(from, room string) ([]byte, error) {
	e.fields["from"] = jsonString(from)
	e.fields["room"] = jsonString(room)
	return json.Marshal(e.fields)
}

func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// controlPayload is the typed view of a control envelope.
type controlPayload struct {
	SessionID string          `json:"sessionId"`
	Command   session.Command `json:"command"`
}

func (e *envelope) control() (*controlPayload, error) {
	var p controlPayload
	if err := json.Unmarshal(e.raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("%w: control envelope without sessionId", errBadEnvelope)
	}
	return &p, nil
}
