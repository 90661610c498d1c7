package rooms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crossdesk/relay/internal/auth"
	"github.com/crossdesk/relay/internal/metrics"
	"github.com/crossdesk/relay/internal/ratelimit"
)

// Transport is the write side of one admitted connection. Implementations
// must be safe for concurrent use; the registry may call Send and Close from
// different goroutines.
type Transport interface {
	Send(payload []byte) error
	Close(code int, reason string)
}

// Peer is one authenticated participant of a room. The transport handle is
// private: everything outside this package addresses the peer by
// (Room, ID).
type Peer struct {
	ID        string
	Room      string
	Subject   string
	CreatedAt time.Time

	transport Transport
}

type Registry struct {
	verifier auth.Verifier
	metrics  *metrics.Metrics
	clock    ratelimit.Clock

	mu    sync.Mutex
	rooms map[string]map[string]*Peer
}

func NewRegistry(verifier auth.Verifier, m *metrics.Metrics, clock ratelimit.Clock) *Registry {
	if m == nil {
		m = &metrics.Metrics{}
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		verifier: verifier,
		metrics:  m,
		clock:    clock,
		rooms:    make(map[string]map[string]*Peer),
	}
}

// Admit authenticates credential and registers transport as a new peer of
// room. The returned peer carries the server-assigned ID that remote peers
// must use to address it. Authentication failures are returned unwrapped so
// callers can map auth.ErrMissingCredentials and auth.ErrInvalidCredentials
// to distinct close reasons.
func (r *Registry) Admit(credential, room string, transport Transport) (*Peer, error) {
	claims, err := r.verifier.Verify(credential)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingCredentials):
			r.metrics.Inc(metrics.AuthMissingCredential)
		default:
			r.metrics.Inc(metrics.AuthInvalidCredential)
		}
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		id, err := newPeerID()
		if err != nil {
			return nil, fmt.Errorf("generate peer id: %w", err)
		}

		r.mu.Lock()
		peers, ok := r.rooms[room]
		if !ok {
			peers = make(map[string]*Peer)
			r.rooms[room] = peers
			r.metrics.Inc(metrics.RoomCreated)
		}
		if _, taken := peers[id]; taken {
			// Extremely unlikely (16 bytes of crypto-random entropy). Try again.
			r.mu.Unlock()
			continue
		}
		peer := &Peer{
			ID:        id,
			Room:      room,
			Subject:   claims.Subject,
			CreatedAt: r.clock.Now(),
			transport: transport,
		}
		peers[id] = peer
		r.mu.Unlock()

		r.metrics.Inc(metrics.PeerAdmitted)
		return peer, nil
	}

	return nil, errors.New("failed to allocate unique peer id")
}

// Remove deregisters the peer and deletes the room if it becomes empty.
// Removing an unknown peer is a no-op.
func (r *Registry) Remove(room, peerID string) {
	r.mu.Lock()
	peers, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := peers[peerID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(peers, peerID)
	empty := len(peers) == 0
	if empty {
		delete(r.rooms, room)
	}
	r.mu.Unlock()

	r.metrics.Inc(metrics.PeerRemoved)
	if empty {
		r.metrics.Inc(metrics.RoomDeleted)
	}
}

// Send delivers payload to the peer identified by (room, peerID).
// Best-effort: the result reports whether the transport accepted the write,
// and an absent peer or failed write is not an error.
func (r *Registry) Send(room, peerID string, payload []byte) bool {
	r.mu.Lock()
	peer := r.rooms[room][peerID]
	r.mu.Unlock()
	if peer == nil {
		return false
	}
	return peer.transport.Send(payload) == nil
}

// EvictRoom closes every connection in the room with the given close code
// and reason, then removes the room. Reports how many peers were evicted.
func (r *Registry) EvictRoom(room string, code int, reason string) int {
	r.mu.Lock()
	peers, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	delete(r.rooms, room)
	evicted := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		evicted = append(evicted, p)
	}
	r.mu.Unlock()

	for _, p := range evicted {
		p.transport.Close(code, reason)
		r.metrics.Inc(metrics.PeerRemoved)
	}
	r.metrics.Inc(metrics.RoomDeleted)
	r.metrics.Inc(metrics.RoomEvicted)
	return len(evicted)
}

// RoomSize reports the number of peers currently in room; zero for a room
// that does not exist.
func (r *Registry) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}
