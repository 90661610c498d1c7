package auth

import "crypto/subtle"

type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (*Claims, error) {
	if apiKey == "" {
		return nil, ErrMissingCredentials
	}
	if v.Expected == "" {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return nil, ErrInvalidCredentials
	}
	return &Claims{}, nil
}
