package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	uid, err := v.Verify(sign(t, "test-secret", "42"))
	if err != nil || uid != 42 {
		t.Fatalf("Verify = %d, %v; want 42", uid, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, "other-secret", "42"),
		"bad subject":  sign(t, "test-secret", "nope"),
		"zero subject": sign(t, "test-secret", "0"),
	}
	for name, token := range cases {
		if _, err := v.Verify(token); err == nil {
			t.Fatalf("%s: expected verification failure", name)
		}
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := NewJWTVerifier("test-secret").Verify(signed); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
