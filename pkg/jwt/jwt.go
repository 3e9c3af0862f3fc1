package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingKey   = errors.New("session secret is empty")
)

// Claims carried by the session cookie.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Manager signs and verifies session tokens with a shared HMAC secret, so any
// number of edit-service instances can verify cookies issued by the account
// service.
type Manager struct {
	secret   []byte
	duration time.Duration
	issuer   string
	now      func() time.Time
}

// NewManager creates a new session token manager.
func NewManager(secret string, duration time.Duration, issuer string) (*Manager, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}

	return &Manager{
		secret:   []byte(secret),
		duration: duration,
		issuer:   issuer,
		now:      time.Now,
	}, nil
}

// Issue creates a signed session token for a user.
func (m *Manager) Issue(userID string) (string, error) {
	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate verifies a session token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
