// Package auth validates the access tokens issued by the REST API's
// auth service. The gateway never issues tokens to clients itself, but
// the signing path is kept here so both sides stay in lockstep and so
// tests can mint credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token roles. The gateway only ever accepts RoleAccess; refresh tokens
// are for the auth service's token endpoint.
const (
	RoleAccess  = "user_access"
	RoleRefresh = "refresh_token"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongRole    = errors.New("token role not valid for this use")
)

// Claims is the JWT payload shared with the REST API.
type Claims struct {
	UserID               string `json:"userid"`     // login name
	NeighborID           int64  `json:"neighborId"` // application identity
	Role                 string `json:"role"`       // user_access or refresh_token
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, Issuer, etc.
}

// JWTManager signs and validates the JWT tokens used across the app.
type JWTManager struct {
	secretKey string
	issuer    string
	duration  time.Duration
}

// NewJWTManager returns a configured JWTManager. issuer must match the
// iss claim the auth service writes into access tokens.
func NewJWTManager(secretKey, issuer string, duration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: secretKey,
		issuer:    issuer,
		duration:  duration,
	}
}

// GenerateToken issues a signed token for a user. refresh selects the
// refresh_token role instead of user_access.
func (m *JWTManager) GenerateToken(userID string, neighborID int64, refresh bool) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)

	role := RoleAccess
	if refresh {
		role = RoleRefresh
	}

	claims := &Claims{
		UserID:     userID,
		NeighborID: neighborID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(m.secretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses a token, validates signature, expiry, issuer and
// role, and returns its claims. expectRefresh selects which role is
// acceptable; the gateway always passes false.
func (m *JWTManager) VerifyToken(tokenString string, expectRefresh bool) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	want := RoleAccess
	if expectRefresh {
		want = RoleRefresh
	}
	if claims.Role != want {
		return nil, ErrWrongRole
	}
	if claims.NeighborID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
