package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"charity-service/internal/models"
	"charity-service/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

type stubUserStore struct {
	users map[string]*models.User
	err   error
}

func (s *stubUserStore) FindByID(_ context.Context, userID string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(userID string) Claims {
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestAuthenticate(t *testing.T) {
	active := &models.User{ID: primitive.NewObjectID(), Email: "donor@example.org", UserType: models.UserTypeDonor, FirstName: "Ana", IsActive: true}
	inactive := &models.User{ID: primitive.NewObjectID(), UserType: models.UserTypeHospital, Name: "General", IsActive: false}
	store := &stubUserStore{users: map[string]*models.User{
		active.ID.Hex():   active,
		inactive.ID.Hex(): inactive,
	}}

	expired := validClaims(active.ID.Hex())
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name       string
		credential string
		wantReason AuthFailure
	}{
		{"missing", "", ReasonMissingCredential},
		{"bearer only", "Bearer ", ReasonMissingCredential},
		{"garbage", "not-a-token", ReasonInvalidCredential},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, "other", validClaims(active.ID.Hex())), ReasonInvalidCredential},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, testSecret, validClaims(active.ID.Hex())), ReasonInvalidCredential},
		{"expired", signToken(t, jwt.SigningMethodHS256, testSecret, expired), ReasonExpiredCredential},
		{"no user id", signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("")), ReasonInvalidCredential},
		{"unknown user", signToken(t, jwt.SigningMethodHS256, testSecret, validClaims(primitive.NewObjectID().Hex())), ReasonUserNotFound},
		{"inactive user", signToken(t, jwt.SigningMethodHS256, testSecret, validClaims(inactive.ID.Hex())), ReasonUserInactive},
	}

	auth := NewAuthenticator(testSecret, store, fixedCounter(0), 10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(context.Background(), tt.credential)
			require.Error(t, err)

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "got %T", err)
			assert.Equal(t, tt.wantReason, authErr.Reason)
			assert.Equal(t, tt.wantReason, FailureReason(err))
		})
	}

	t.Run("valid", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, testSecret, validClaims(active.ID.Hex()))
		for _, credential := range []string{token, "Bearer " + token} {
			id, err := auth.Authenticate(context.Background(), credential)
			require.NoError(t, err)
			assert.Equal(t, active.ID.Hex(), id.UserID)
			assert.Equal(t, "donor@example.org", id.Profile.Email)
			assert.Equal(t, models.UserTypeDonor, id.Profile.UserType)
		}
	})
}

func TestAuthenticateStoreFailure(t *testing.T) {
	userID := primitive.NewObjectID().Hex()
	auth := NewAuthenticator(testSecret, &stubUserStore{err: errors.New("connection refused")}, fixedCounter(0), 0)

	_, err := auth.Authenticate(context.Background(), signToken(t, jwt.SigningMethodHS256, testSecret, validClaims(userID)))
	assert.Equal(t, ReasonUserNotFound, FailureReason(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestAuthenticateCapacityCheckedFirst(t *testing.T) {
	auth := NewAuthenticator(testSecret, &stubUserStore{}, fixedCounter(5), 5)

	_, err := auth.Authenticate(context.Background(), "")
	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 5, capErr.Current)
	assert.Equal(t, ReasonCapacityExceeded, FailureReason(err))
}

func TestFailureReasonUnknownError(t *testing.T) {
	assert.Equal(t, ReasonInvalidCredential, FailureReason(errors.New("boom")))
}
