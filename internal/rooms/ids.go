package rooms

import (
	"crypto/rand"
	"encoding/hex"
)

// Peer IDs double as routing addresses, so they must be unguessable.
func newPeerID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
