// Package auth verifies bearer credentials at the connection boundary.
// Token issuance lives elsewhere in the product; this side only checks.
package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campfire-im/relay/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier maps a bearer token to a user identity or fails.
type TokenVerifier interface {
	Verify(token string) (domain.UserID, error)
}

// JWTVerifier checks HMAC-signed tokens whose subject claim carries the
// user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (domain.UserID, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, ErrInvalidToken
	}
	uid, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || uid <= 0 {
		return 0, ErrInvalidToken
	}
	return domain.UserID(uid), nil
}
