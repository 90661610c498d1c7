// Package signaling implements the WebSocket relay that forwards WebRTC
// negotiation envelopes between peers of a room.
//
// Envelopes are routed strictly within the sender's room. Control envelopes
// bound to a secure session never pass through directly; they are validated
// and audited by the session manager first.
package signaling
