package devgateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTTL is how long a bearer token stays valid.
const sessionTTL = 7 * 24 * time.Hour

// sessionClaims are the claims carried in a bearer token.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// mintSessionToken signs a bearer token for an account.
// PRE: secret is non-empty
// POST: Returns a signed HS256 token valid for sessionTTL
func mintSessionToken(secret []byte, accountID, role string, now time.Time) (string, error) {
	claims := sessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseSessionToken validates a bearer token and returns the account id.
// POST: Returns an error for expired, malformed or wrongly signed tokens
func parseSessionToken(secret []byte, raw string) (string, error) {
	var claims sessionClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.Subject, nil
}
