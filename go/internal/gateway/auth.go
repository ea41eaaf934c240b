package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired means the token was genuine but its session is over
	ErrTokenExpired = errors.New("token expired")
)

// Authenticator verifies HS256 bearer tokens whose subject is the user id
type Authenticator struct {
	secret []byte
	clock  clockwork.Clock
}

func NewAuthenticator(secret string, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{secret: []byte(secret), clock: clock}
}

// Authenticate extracts the user id from the request's token. The token is
// read from the Authorization header, or from the token query parameter
// for websocket upgrades where browsers cannot set headers.
//
// An expired token still yields the user id together with ErrTokenExpired
// so the caller can dispose of that user's session.
func (a *Authenticator) Authenticate(r *http.Request) (uuid.UUID, error) {
	raw := bearerToken(r)
	if raw == "" {
		return uuid.Nil, ErrMissingToken
	}
	return a.Verify(raw)
}

// Verify parses and validates a raw token string
func (a *Authenticator) Verify(raw string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		userID, perr := uuid.Parse(claims.Subject)
		if perr != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, perr)
		}
		return userID, ErrTokenExpired
	default:
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// Issue signs a token for userID valid for ttl. timerd does not log users
// in itself; this serves local tooling and tests.
func (a *Authenticator) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
