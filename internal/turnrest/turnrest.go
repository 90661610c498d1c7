// Package turnrest issues coturn-compatible TURN REST credentials for the
// ICE server lists handed to peers.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<peer_id_or_random>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Expiry is computed using the server clock in UTC.
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/crossdesk/relay/internal/config"
)

type Generator struct {
	sharedSecret   []byte
	ttl            time.Duration
	usernamePrefix string
	now            func() time.Time
}

type GeneratorConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("TTL must be positive")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttl:            cfg.TTL,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
	}, nil
}

// FromConfig builds a Generator from the relay configuration, or nil when no
// TURN REST secret is configured.
func FromConfig(cfg config.Config) (*Generator, error) {
	if cfg.TURNRestSecret == "" {
		return nil, nil
	}
	return NewGenerator(GeneratorConfig{
		SharedSecret:   cfg.TURNRestSecret,
		TTL:            cfg.TURNRestTTL,
		UsernamePrefix: cfg.TURNRestUsernamePrefix,
	})
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials scoped to id, typically the peer ID the
// credentials are handed to.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expiryUnix := g.now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiryUnix, g.usernamePrefix, id)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

// GenerateRandom mints credentials with a random scope, for callers with no
// peer identity at hand (e.g. the anonymous GET /webrtc/ice endpoint).
func (g *Generator) GenerateRandom() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return g.Generate(hex.EncodeToString(b[:]))
}

// Decorate returns a copy of servers with creds applied to every entry that
// contains a TURN URL. Entries without TURN URLs are left untouched.
func Decorate(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Preserve empty (non-nil) slices so JSON responses consistently encode
		// as `[]` rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
