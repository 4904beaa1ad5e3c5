// Package auth issues and checks the HS256 tokens operators present when
// uploading labels.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleOperator = "operator"

var (
	ErrMissingToken = errors.New("missing or invalid Authorization header")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("operator role required")
)

type Claims struct {
	Username string
	Role     string
}

// Issue signs a token for username with the given role and lifetime.
func Issue(secret []byte, username, role string, ttl time.Duration) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("username required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"role":     role,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// Verify parses tokenString, checks signature and expiry and returns the
// claims.
func Verify(secret []byte, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	username, _ := mc["username"].(string)
	role, _ := mc["role"].(string)
	return Claims{Username: username, Role: role}, nil
}

// FromHeader verifies a "Bearer <token>" Authorization value and requires
// the operator role.
func FromHeader(secret []byte, header string) (Claims, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return Claims{}, ErrMissingToken
	}
	c, err := Verify(secret, tokenString)
	if err != nil {
		return Claims{}, err
	}
	if c.Role != RoleOperator {
		return c, ErrForbidden
	}
	return c, nil
}
