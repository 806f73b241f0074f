package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT payload.
type Claims struct {
	Role            string   `json:"role"`
	City            string   `json:"city,omitempty"`
	EstablishmentID string   `json:"establishment_id,omitempty"`
	Permissions     []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts claims to the explicit actor value.
func (c Claims) Actor() Actor {
	return Actor{
		UserID:          c.Subject,
		Role:            c.Role,
		City:            c.City,
		EstablishmentID: c.EstablishmentID,
		Permissions:     c.Permissions,
	}
}

// Issue signs an access token for the actor.
func Issue(a Actor, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	if a.UserID == "" {
		return "", time.Time{}, errors.New("subject required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role:            a.Role,
		City:            a.City,
		EstablishmentID: a.EstablishmentID,
		Permissions:     a.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   a.UserID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token without subject")
	}
	return *claims, nil
}
