package token

import (
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgErrors "reflex-engine/pkg/errors"
)

// MinSeedLen is the minimum random seed an apikey JWT must carry.
const MinSeedLen = 36

// SessionSkew is how far in the future a session token exp may lie.
const SessionSkew = 60 * time.Second

var jtiCharset = regexp.MustCompile(`[^a-z0-9-]`)

// Claims is the JWT body used by both apikeys and session tokens: jti names
// the credential, seed adds request entropy on apikey exchange.
type Claims struct {
	Seed string `json:"seed,omitempty"`
	jwt.RegisteredClaims
}

var validMethods = jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})

// ExtractJTI pulls the jti from a JWT without verifying its signature. The
// value is only trusted after a secondary signed verification succeeds.
func ExtractJTI(raw string) (string, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return "", pkgErrors.Wrap(pkgErrors.KindUnauthorized, "cannot decode JWT", err)
	}
	jti := claims.ID
	if jti == "" || jtiCharset.MatchString(jti) {
		return "", pkgErrors.Unauthorized(fmt.Sprintf("invalid token id: %q", jti))
	}
	return jti, nil
}

// Verify checks a JWT signature and expiration window against one secret.
// maxAhead bounds how far in the future exp may be.
func Verify(raw string, secret []byte, maxAhead time.Duration) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, validMethods)
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.KindUnauthorized, "JWT cannot be decoded properly", err)
	}
	if claims.ExpiresAt == nil {
		return nil, pkgErrors.Unauthorized("JWT missing expiration")
	}
	if time.Until(claims.ExpiresAt.Time) > maxAhead {
		return nil, pkgErrors.Unauthorized("JWT bad expiration (too great)")
	}
	return claims, nil
}

// Sign produces a JWT for the given identity. Used by the bootstrap check
// and by tests; clients normally sign their own.
func Sign(jti string, secret []byte, ttl time.Duration, seed string) (string, error) {
	claims := Claims{
		Seed: seed,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
