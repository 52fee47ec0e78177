package jwtx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrSignatureInvalid = errors.New("jwtx: invalid signature")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrNotYetValid      = errors.New("jwtx: token not yet valid")
	ErrMissingClaim     = errors.New("jwtx: missing required claim")
	ErrIssuer           = errors.New("jwtx: issuer mismatch")
	ErrAudience         = errors.New("jwtx: audience mismatch")
)

// Codec signs and verifies compact HS256 tokens. It is a pure value type with
// no side effects; the same Codec value is safe for concurrent use.
type Codec struct {
	// Secret is the HMAC signing key. Must be non-empty.
	Secret []byte

	// Issuer stamped into signed tokens and enforced on verify.
	Issuer string

	// Audience stamped into signed tokens and enforced on verify.
	Audience string

	// Leeway allows small clock skew when validating exp/nbf. The default of
	// zero is strict: a token expired by one second fails verification.
	Leeway time.Duration
}

// Sign produces a compact signed token from the given claims.
func (c Codec) Sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.Secret)
}

// Verify parses and validates a compact token, returning its claims.
//
// It rejects tokens that are malformed, carry an invalid signature, are
// expired (subject to Leeway), are missing the subject or expiry claim, or
// carry a different issuer/audience than the Codec expects.
func (c Codec) Verify(token string) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.Leeway),
	)

	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return c.Secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	// Required claims beyond what the parser enforces.
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return Claims{}, ErrMissingClaim
	}

	if c.Issuer != "" && claims.Issuer != c.Issuer {
		return Claims{}, ErrIssuer
	}
	if c.Audience != "" && !containsAudience(claims.Audience, c.Audience) {
		return Claims{}, ErrAudience
	}

	return claims, nil
}

// Decode extracts claims without verifying the signature. Callers must treat
// the result as untrusted display data, never as an authorization input.
func Decode(token string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

// Signature returns the signature segment of a compact token. It is the key
// under which individual tokens are recorded for revocation.
func Signature(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[2] == "" {
		return "", ErrMalformed
	}
	return parts[2], nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
