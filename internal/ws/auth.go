package ws

import (
	"context"
	"errors"
	"strings"

	"charity-service/internal/models"
	"charity-service/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
)

// UserStore resolves verified identities to user records.
type UserStore interface {
	FindByID(ctx context.Context, userID string) (*models.User, error)
}

// ConnectionCounter reports the number of live connections.
type ConnectionCounter interface {
	Count() int
}

// Identity is an authenticated principal admitted to the realtime layer.
type Identity struct {
	UserID  string
	Profile models.UserSummary
}

// Claims is the payload of access tokens issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator validates handshake credentials and enforces the connection quota.
type Authenticator struct {
	secret         []byte
	users          UserStore
	counter        ConnectionCounter
	maxConnections int
}

func NewAuthenticator(secret string, users UserStore, counter ConnectionCounter, maxConnections int) *Authenticator {
	return &Authenticator{
		secret:         []byte(secret),
		users:          users,
		counter:        counter,
		maxConnections: maxConnections,
	}
}

// Authenticate checks the quota, verifies the token and loads the user.
// It returns *CapacityError or *AuthError on failure and has no side effects.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if a.maxConnections > 0 {
		if current := a.counter.Count(); current >= a.maxConnections {
			return Identity{}, &CapacityError{Current: current, Max: a.maxConnections}
		}
	}

	credential = strings.TrimSpace(credential)
	if rest, ok := strings.CutPrefix(credential, "Bearer"); ok {
		credential = strings.TrimSpace(rest)
	}
	if credential == "" {
		return Identity{}, &AuthError{Reason: ReasonMissingCredential}
	}

	claims, err := a.ParseToken(credential)
	if err != nil {
		return Identity{}, err
	}

	user, err := a.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Identity{}, &AuthError{Reason: ReasonUserNotFound}
		}
		return Identity{}, &AuthError{Reason: ReasonUserNotFound, Err: err}
	}
	if !user.IsActive {
		return Identity{}, &AuthError{Reason: ReasonUserInactive}
	}

	return Identity{UserID: user.ID.Hex(), Profile: user.Summary()}, nil
}

// ParseToken verifies signature and expiry of an HS256 access token.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &AuthError{Reason: ReasonExpiredCredential, Err: err}
		}
		return nil, &AuthError{Reason: ReasonInvalidCredential, Err: err}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, &AuthError{Reason: ReasonInvalidCredential, Err: errors.New("missing userId claim")}
	}
	return claims, nil
}
