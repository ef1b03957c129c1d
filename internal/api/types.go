package api

import "github.com/aarambh/dispatch/server/domain"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SessionCompleteResponse is returned when a message arrives for a finished session.
// It carries the final reply and record alongside the error.
type SessionCompleteResponse struct {
	ErrorResponse
	*domain.ChatReply
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveCalls int    `json:"active_calls"`
}
