package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u1", "u1@example.com", "secret", time.Hour)
	assert.Equal(t, nil, err)

	claims, err := ParseToken(token, "secret")
	assert.Equal(t, nil, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, "viewify", claims.Issuer)
}

func TestParseRejectsBadTokens(t *testing.T) {
	token, _ := GenerateToken("u1", "", "secret", time.Hour)
	_, err := ParseToken(token, "other")
	assert.NotEqual(t, nil, err)

	expired, _ := GenerateToken("u1", "", "secret", -time.Minute)
	_, err = ParseToken(expired, "secret")
	assert.Equal(t, true, errors.Is(err, jwt.ErrTokenExpired))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	assert.Equal(t, nil, err)
	_, err = ParseToken(unsigned, "secret")
	assert.NotEqual(t, nil, err)
}

func TestSubjectOnlyToken(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "u9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	assert.Equal(t, nil, err)

	got, err := ParseToken(signed, "secret")
	assert.Equal(t, nil, err)
	assert.Equal(t, "u9", got.UserID)

	anon := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	signed, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, anon).SignedString([]byte("secret"))
	_, err = ParseToken(signed, "secret")
	assert.Equal(t, true, errors.Is(err, ErrNoSubject))
}
