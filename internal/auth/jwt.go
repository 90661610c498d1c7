package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims extends the registered claim set with the relay's stable session
// identifier. The sid claim is issued per login session by the account
// service and survives token refresh.
type jwtClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
}

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{secret: []byte(secret)}
}

// Verify checks the token's HS256 signature and time claims and returns the
// holder's identity. Tokens signed with any other algorithm are rejected
// outright, including "none".
func (v JWTVerifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}

	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}

	return &Claims{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
	}, nil
}
