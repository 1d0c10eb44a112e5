package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the user a token was issued to.
type Claims struct {
	UserID   int            `json:"id"`
	Username string         `json:"username"`
	Type     types.UserType `json:"type"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates HS256 tokens.
type JWTManager struct {
	secret  []byte
	timeout time.Duration
	now     func() time.Time
}

// NewJWTManager returns a manager signing with secret; tokens expire after timeout.
func NewJWTManager(secret string, timeout time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required but was empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("JWT expiry must be positive, got %s", timeout)
	}
	return &JWTManager{secret: []byte(secret), timeout: timeout, now: time.Now}, nil
}

// GenerateToken signs a token for u.
func (m *JWTManager) GenerateToken(u types.User) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID:   u.ID,
		Username: u.Username,
		Type:     u.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses tokenString and returns its claims.
// Tokens signed with anything other than HS256 are rejected.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
