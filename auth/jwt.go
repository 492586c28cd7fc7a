/*
jwt.go - Minimal HS256 token signing and verification

Tokens are standard three-part JWTs (header.payload.signature) signed
with HMAC-SHA256 over a shared secret. Signature comparison is
constant-time. Only HS256 is accepted on verification; any other alg
header is rejected outright.
*/
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrTokenExpired     = errors.New("token has expired")
)

// Claims is the token payload.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a token for the given user.
func (s *Signer) Issue(userID, username string) (string, error) {
	now := s.now()
	claims := Claims{
		Subject:  userID,
		Username: username,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(s.ttl).Unix(),
	}

	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := b64(header) + "." + b64(payload)
	return signingInput + "." + b64(s.sign(signingInput)), nil
}

// Verify checks the signature and expiry, returning the claims.
func (s *Signer) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg != "HS256" {
		return Claims{}, ErrInvalidToken
	}

	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal(sig, s.sign(signingInput)) {
		return Claims{}, ErrSignatureInvalid
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Expiry != 0 && s.now().Unix() > claims.Expiry {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

func (s *Signer) sign(input string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

func b64[T []byte | string](v T) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}
