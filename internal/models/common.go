package models

import "net/http"

// ErrorResponse is the error body of every HTTP endpoint, including rejected
// WebSocket handshakes. Code mirrors the HTTP status.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorResponse builds the body for status. An empty message falls back
// to the standard status text.
func NewErrorResponse(status int, message string) ErrorResponse {
	if message == "" {
		message = http.StatusText(status)
	}
	return ErrorResponse{Code: status, Message: message}
}

func (e ErrorResponse) WithDetails(details string) ErrorResponse {
	e.Details = details
	return e
}

// AckResponse acknowledges an action that returns no resource.
type AckResponse struct {
	Message string `json:"message"`
}
