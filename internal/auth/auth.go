package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classchat-service/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller the rest of the service trusts for the
// lifetime of a connection.
type Identity struct {
	UserID      string      `json:"user_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"display_name"`
}

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens and extracts the caller identity.
type Validator struct {
	secret []byte
}

// NewValidator builds a Validator over a shared HMAC secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken verifies the JWT and returns the authenticated identity.
func (v *Validator) ValidateToken(token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	role := models.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Role: role, DisplayName: claims.DisplayName}, nil
}

// IdentityFromBearer validates an "Authorization: Bearer <token>" value.
func IdentityFromBearer(v *Validator, header string) (Identity, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Identity{}, ErrInvalidToken
	}
	return v.ValidateToken(parts[1])
}

// IssueToken mints a token for the given identity. Used by tests and local
// tooling; production tokens come from the identity service.
func (v *Validator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		Role:        string(id.Role),
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
