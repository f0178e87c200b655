package fleet

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService issues and validates worker authentication tokens. Workers
// present the token on the websocket handshake and on result uploads.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given signing secret.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}
}

type workerClaims struct {
	WorkerName string `json:"worker_name"`
	jwt.RegisteredClaims
}

// Issue creates a signed token for a worker.
func (ts *TokenService) Issue(workerName string) (string, error) {
	now := ts.now()
	claims := workerClaims{
		WorkerName: workerName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			Issuer:    "pollenisator",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// Validate checks a token and returns the worker name it was issued to.
func (ts *TokenService) Validate(raw string) (string, error) {
	var claims workerClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return ts.now() }))
	if err != nil {
		return "", fmt.Errorf("invalid worker token: %w", err)
	}
	if !token.Valid || claims.WorkerName == "" {
		return "", fmt.Errorf("invalid worker token")
	}
	return claims.WorkerName, nil
}
