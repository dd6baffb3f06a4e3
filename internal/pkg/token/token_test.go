package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgErrors "reflex-engine/pkg/errors"
)

var testSecret = []byte("7c6cbd0a2d1b4bb2a2a3c4c0ef3f8f27")

func TestSignAndVerify(t *testing.T) {
	raw, err := Sign("100", testSecret, 30*time.Second, "")
	require.NoError(t, err)

	claims, err := Verify(raw, testSecret, SessionSkew)
	require.NoError(t, err)
	assert.Equal(t, "100", claims.ID)
}

func TestVerifyWrongSecret(t *testing.T) {
	raw, err := Sign("100", testSecret, 30*time.Second, "")
	require.NoError(t, err)

	_, err = Verify(raw, []byte("a completely different secret!!!"), SessionSkew)
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindUnauthorized))
}

func TestVerifyExpired(t *testing.T) {
	raw, err := Sign("100", testSecret, -time.Minute, "")
	require.NoError(t, err)

	_, err = Verify(raw, testSecret, SessionSkew)
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindUnauthorized))
}

func TestVerifyExpirationTooFar(t *testing.T) {
	raw, err := Sign("100", testSecret, time.Hour, "")
	require.NoError(t, err)

	_, err = Verify(raw, testSecret, SessionSkew)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too great")
}

func TestVerifyMissingExpiration(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "100"},
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = Verify(raw, testSecret, SessionSkew)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing expiration")
}

func TestVerifyRejectsNone(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "100",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * time.Second)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(raw, testSecret, SessionSkew)
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindUnauthorized))
}

func TestExtractJTI(t *testing.T) {
	raw, err := Sign("0594b31a-a969-4096-b10e-50cd0c56a3a0", testSecret, 30*time.Second, "")
	require.NoError(t, err)

	jti, err := ExtractJTI(raw)
	require.NoError(t, err)
	assert.Equal(t, "0594b31a-a969-4096-b10e-50cd0c56a3a0", jti)
}

func TestExtractJTIRejectsCharset(t *testing.T) {
	raw, err := Sign("DROP TABLE", testSecret, 30*time.Second, "")
	require.NoError(t, err)

	_, err = ExtractJTI(raw)
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindUnauthorized))

	raw, err = Sign("", testSecret, 30*time.Second, "")
	require.NoError(t, err)

	_, err = ExtractJTI(raw)
	assert.Error(t, err)
}

func TestExtractJTIRejectsGarbage(t *testing.T) {
	_, err := ExtractJTI("not.a.jwt")
	assert.Error(t, err)

	_, err = ExtractJTI(strings.Repeat("x", 40))
	assert.Error(t, err)
}

func TestSeedCarried(t *testing.T) {
	seed := strings.Repeat("s", MinSeedLen)
	raw, err := Sign("100", testSecret, 30*time.Second, seed)
	require.NoError(t, err)

	claims, err := Verify(raw, testSecret, SessionSkew)
	require.NoError(t, err)
	assert.Equal(t, seed, claims.Seed)
	assert.GreaterOrEqual(t, len(claims.Seed), MinSeedLen)
}
