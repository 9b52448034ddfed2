package ws

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send timeout")
	ErrPublisherStopped = errors.New("broadcaster stopped")
)

// AuthFailure is the machine readable reason a handshake was rejected.
type AuthFailure string

const (
	ReasonMissingCredential AuthFailure = "missing_credential"
	ReasonInvalidCredential AuthFailure = "invalid_credential"
	ReasonExpiredCredential AuthFailure = "expired_credential"
	ReasonUserNotFound      AuthFailure = "user_not_found"
	ReasonUserInactive      AuthFailure = "user_inactive"
	ReasonCapacityExceeded  AuthFailure = "capacity_exceeded"
)

// AuthError rejects a handshake. No resources have been allocated when it is returned.
type AuthError struct {
	Reason AuthFailure
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CapacityError is returned when the global connection quota is exhausted.
type CapacityError struct {
	Current int
	Max     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("connection limit reached: %d/%d", e.Current, e.Max)
}

// DeliveryError describes a failed send to one connection during a broadcast.
// It is logged and counted, never returned to the publisher.
type DeliveryError struct {
	ConnectionID string
	UserID       string
	CommunityID  string
	Event        EventName
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to connection %s (user %s): %v", e.Event, e.ConnectionID, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// AuthorizationError rejects a subscribe request for a community the user does not belong to.
type AuthorizationError struct {
	UserID      string
	CommunityID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not authorized to subscribe to community %s", e.UserID, e.CommunityID)
}

// FailureReason maps a handshake error to its reason. Unknown errors are reported as invalid credentials.
func FailureReason(err error) AuthFailure {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		return ReasonCapacityExceeded
	}
	return ReasonInvalidCredential
}
