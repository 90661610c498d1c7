// Package auth maps opaque credential strings to verified claims.
//
// The relay consumes token verification as a capability: account
// registration, login, and token issuance live elsewhere. A Verifier only
// decides whether a presented credential is valid and who it belongs to.
package auth

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/crossdesk/relay/internal/config"
)

var (
	// ErrMissingCredentials reports that no credential was presented at all.
	// Kept distinct from ErrInvalidCredentials so clients can tell "not logged
	// in" apart from "token expired".
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims is the verified identity extracted from a credential.
type Claims struct {
	// Subject identifies the credential holder. Empty for modes that carry no
	// identity (API key, none).
	Subject string
	// SessionID is the token's stable session claim (sid), when present.
	SessionID string
}

type Verifier interface {
	Verify(credential string) (*Claims, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return AllowAllVerifier{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// AllowAllVerifier accepts any credential, including none. Dev only.
type AllowAllVerifier struct{}

func (AllowAllVerifier) Verify(string) (*Claims, error) {
	return &Claims{}, nil
}

// CredentialFromQuery extracts the connection credential from WebSocket
// upgrade query parameters. Both `token` and `apiKey` are accepted so CLI and
// browser clients can use whichever their transport library exposes.
func CredentialFromQuery(q url.Values) string {
	if token := q.Get("token"); token != "" {
		return token
	}
	return q.Get("apiKey")
}
