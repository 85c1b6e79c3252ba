package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer produces short-lived HS256 bearer tokens for the loader's outbound
// requests, when a manifest origin requires an Authorization header.
type Signer struct {
	secretKey []byte
	subject   string
	ttl       time.Duration
}

// NewSigner returns a Signer that signs tokens for subject, valid for ttl.
func NewSigner(secretKey, subject string, ttl time.Duration) *Signer {
	return &Signer{secretKey: []byte(secretKey), subject: subject, ttl: ttl}
}

// SignedAuthorizationHeader returns a "Bearer <token>" value, implementing
// pkg/loader.TokenSigner.
func (s *Signer) SignedAuthorizationHeader() (string, error) {
	token, err := s.sign()
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

func (s *Signer) sign() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": s.subject,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}
