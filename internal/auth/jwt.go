// Package auth issues and verifies the bearer tokens front-desk staff use.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/roomdesk/api/internal/enum"
)

const issuer = "roomdesk"

var ErrInvalidToken = errors.New("invalid token")

// Staff is the front-desk account a token was issued to. Its name is
// recorded on the orders it hands over.
type Staff struct {
	ID   uuid.UUID `json:"staff_id"`
	Name string    `json:"staff_name,omitempty"`
	Role string    `json:"role"`
}

// CanHandOver reports whether s may hand over the day's orders.
func (s Staff) CanHandOver() bool {
	return s.Role == enum.RoleOwner || s.Role == enum.RoleManager
}

type Claims struct {
	Staff
	jwt.RegisteredClaims
}

func GenerateToken(secret string, staff Staff, ttl time.Duration) (string, error) {
	if staff.ID == uuid.Nil {
		return "", fmt.Errorf("%w: staff id is required", ErrInvalidToken)
	}
	now := time.Now()
	claims := Claims{
		Staff: staff,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   staff.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies tokenStr and returns the staff member it names.
func ValidateToken(secret, tokenStr string) (Staff, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Staff{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Staff.ID == uuid.Nil || claims.Subject != claims.Staff.ID.String() {
		return Staff{}, fmt.Errorf("%w: staff id does not match subject", ErrInvalidToken)
	}
	return claims.Staff, nil
}
