package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Email     string
	BranchID  string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs HS256 tokens with a shared secret.
type tokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte("integration-signing-secret-32by!"),
		issuer:   "https://auth.test.chargecfg.dev",
		audience: "chargecfg-test",
	}
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.secret, claims, now, now.Add(time.Hour))
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.secret, claims, now.Add(-2*time.Hour), now.Add(-time.Hour))
}

// GenerateTokenWithKey signs a token with another key and method, for
// forged-token tests.
func (ti *tokenIssuer) GenerateTokenWithKey(method jwt.SigningMethod, key []byte, claims TestClaims) string {
	now := time.Now()
	return ti.sign(method, key, claims, now, now.Add(time.Hour))
}

func (ti *tokenIssuer) sign(method jwt.SigningMethod, key []byte, claims TestClaims, iat, exp time.Time) string {
	mapClaims := jwt.MapClaims{
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"iat":   jwt.NewNumericDate(iat),
		"exp":   jwt.NewNumericDate(exp),
		"sub":   claims.SubjectID,
		"email": claims.Email,
	}
	if claims.BranchID != "" {
		mapClaims["branch_id"] = claims.BranchID
	}
	if len(claims.Roles) > 0 {
		// Store as []any to match JWT decode behavior.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}

	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(method, mapClaims).SignedString(key)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// Secret returns the signing secret the server verifies with.
func (ti *tokenIssuer) Secret() []byte {
	return ti.secret
}

// Issuer returns the expected token issuer claim.
func (ti *tokenIssuer) Issuer() string {
	return ti.issuer
}

// Audience returns the expected token audience claim.
func (ti *tokenIssuer) Audience() string {
	return ti.audience
}
