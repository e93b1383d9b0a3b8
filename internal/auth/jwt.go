// Package auth issues and verifies the session tokens that protect the local
// companion API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionTokenType = "session"

type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// Session is an issued token with its expiry.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	JTI       string    `json:"jti"`
}

// SessionClaims are the verified claims of a session token.
type SessionClaims struct {
	Subject string
	JTI     string
	Expires time.Time
}

func NewJWTManager(secret []byte, issuer string, ttl time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTManager{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue signs a session token for subject (the signed-in email or "local").
func (m *JWTManager) Issue(subject string) (*Session, error) {
	now := time.Now().UTC()
	exp := now.Add(m.ttl)
	jti := uuid.New().String()

	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"jti": jti,
		"typ": sessionTokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Session{Token: tokenStr, ExpiresAt: exp, JTI: jti}, nil
}

// Verify checks the HS256 signature, expiry, issuer and token type.
func (m *JWTManager) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithLeeway(5*time.Second), jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if typ, _ := claims["typ"].(string); typ != sessionTokenType {
		return nil, errors.New("invalid token type")
	}

	out := &SessionClaims{}
	out.Subject, _ = claims["sub"].(string)
	out.JTI, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expires = exp.Time
	}
	return out, nil
}
