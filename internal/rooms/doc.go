// Package rooms tracks live signaling connections partitioned into named
// rooms.
//
// The registry owns every transport handle exclusively: callers address
// peers by (room, peerID) pairs and never hold a live reference to another
// peer's connection. Rooms are created lazily on first admission and removed
// as soon as the last peer leaves.
package rooms
