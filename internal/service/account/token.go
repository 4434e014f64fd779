package account

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrNoSecret     = errors.New("jwt secret not configured")
)

// Claims identify the account a token was issued to.
type Claims struct {
	Email string    `json:"email"`
	Role  user.Type `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 login tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a token issuer. An empty secret disables issuing.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (t *Tokens) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Issue signs a token for u.
func (t *Tokens) Issue(u *user.User) (string, error) {
	if !t.Enabled() {
		return "", ErrNoSecret
	}
	now := t.now()
	claims := Claims{
		Email: u.Key(),
		Role:  u.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses tokenString and returns its claims.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	if !t.Enabled() {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
